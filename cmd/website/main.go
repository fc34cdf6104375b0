// Website serves HTTP/1.x with one of the demo responders and can probe a
// running server with pipelined requests.
//
// Usage:
//
//	# Serve with defaults ([::1]:8080, static responder)
//	website serve
//
//	# Serve with a config file; WEBSITE_* environment variables override it
//	website serve --config /etc/website/config.yaml
//
//	# Send three pipelined requests to a running server
//	website probe --addr 127.0.0.1:8080 --count 3
package main

func main() {
	Execute()
}
