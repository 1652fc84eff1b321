// Package protocol defines the render bridge wire protocol.
//
// A request is a single JSON frame carrying a command name and a parameter
// object. A response is a JSON frame with status "ok" or "error"; successful
// render responses additionally declare a binary attachment (content type and
// byte length) that follows in exactly one binary frame of that length.
package protocol
