package httpx

import "github.com/google/uuid"

func genID() string {
	return uuid.NewString()
}

// validID accepts peer supplied ids that are short printable tokens.
func validID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c >= 0x7f {
			return false
		}
	}
	return true
}
