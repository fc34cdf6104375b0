// Package httpx is the protocol layer of the website server: an HTTP/1.x
// connection pipeline that decodes requests, hands each to a Responder and
// encodes the responses back in request order, plus a small client able to
// pipeline requests on one connection.
//
// Highlights
//   - Pipeline: keep-alive, request pipelining with in-order responses,
//     chunked request and response bodies, Expect: 100-continue, CL/TE
//     validation, header and body size limits, Host validation.
//   - Responders never break a connection: errors and panics become 500
//     (or the status of a *StatusError) and the connection stays usable.
//   - Request id, correlation id and W3C trace context travel in the
//     request context.
//   - Observability: zap logging and an obs.Meter.
//
// Quick start (pipeline on a listener):
//
//	p := &httpx.Pipeline[httpx.ResponderFunc]{
//		Responder: func(ctx context.Context, r *httpx.Request) (*httpx.Response, error) {
//			return httpx.Text(200, "hello"), nil
//		},
//	}
//	for {
//		c, err := ln.Accept()
//		if err != nil { return err }
//		go p.ServeConn(ctx, c, executor)
//	}
//
// Quick start (client):
//
//	c := &httpx.Client{Timeout: 5 * time.Second}
//	res, err := c.Get(ctx, "http://127.0.0.1:8080/")
//	if err != nil { log.Fatal(err) }
//	fmt.Println(res.StatusCode, string(res.Body))
package httpx
