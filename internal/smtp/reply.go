package smtp

import "strings"

// Reply is a parsed SMTP server reply: a three-digit status code plus one
// text line per reply line. Multi-line replies are assembled into a single
// Reply before being handed to the client.
type Reply struct {
	Code  int
	Lines []string
}

// Text joins the reply lines into a single human readable string.
func (r Reply) Text() string {
	return strings.Join(r.Lines, " / ")
}

// PositiveCompletion reports whether the reply is in the 2xx class.
func (r Reply) PositiveCompletion() bool {
	return r.Code >= 200 && r.Code < 300
}

// PositiveIntermediate reports whether the reply is in the 3xx class, such as
// the 354 "start mail input" response to DATA.
func (r Reply) PositiveIntermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// TransientNegative reports whether the reply is in the 4xx class.
func (r Reply) TransientNegative() bool {
	return r.Code >= 400 && r.Code < 500
}

// PermanentNegative reports whether the reply is in the 5xx class.
func (r Reply) PermanentNegative() bool {
	return r.Code >= 500 && r.Code < 600
}
