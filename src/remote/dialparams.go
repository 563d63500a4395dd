package remote

import (
	sdkclient "github.com/bazelbuild/remote-apis-sdks/go/pkg/client"
)

// dialParams builds the SDK's dial parameters from this client's Config,
// attaching our stats handler and retry interceptor as dial options.
func (c *Client) dialParams() sdkclient.DialParams {
	return sdkclient.DialParams{
		Service:            c.Config.URL,
		CASService:         c.Config.CASURL,
		NoSecurity:         !c.Config.Secure,
		TransportCredsOnly: c.Config.Secure,
		DialOpts:           c.dialOpts(),
	}
}
