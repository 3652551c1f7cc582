package errs

import (
	"errors"
	"net/url"
)

// RedactURL drops the query string from any *url.Error in err's chain.
// Provider credentials travel as query parameters and http.Client errors
// quote the full request URL, so transport errors go through here before
// they are wrapped, logged or returned to callers.
func RedactURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		ue.URL = "[redacted]"
		return err
	}
	u.RawQuery = ""
	u.User = nil
	ue.URL = u.String()
	return err
}
