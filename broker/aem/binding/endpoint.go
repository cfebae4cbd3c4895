package binding

// ManagementPath is the SEMP v2 config API root below the service URI.
const ManagementPath = "/SEMP/v2/config"

// EndpointView exposes the broker endpoints of a messaging binding.
type EndpointView struct {
	credentials map[string]any
}

func NewEndpointView(b Binding) EndpointView {
	return EndpointView{credentials: b.Credentials}
}

// URI returns the SEMP v2 config base URI of the broker.
func (v EndpointView) URI() (string, bool) {
	uri, ok := stringValue(v.endpoint(), "uri")
	if !ok {
		return "", false
	}
	return uri + ManagementPath, true
}

// AMQPURI returns the AMQP URI exactly as declared in the binding.
func (v EndpointView) AMQPURI() (string, bool) {
	return stringValue(v.endpoint(), "amqp_uri")
}

// VPN returns the message VPN name.
func (v EndpointView) VPN() (string, bool) {
	return stringValue(v.credentials, "vpn")
}

// endpoint returns the nested endpoint document, which is only honored when
// it is filed under the messaging label. The entry is read by that key
// rather than by taking the first entry under endpoints: map order is not
// stable, and a document with several entries must resolve to the labelled
// one every time.
func (v EndpointView) endpoint() map[string]any {
	return document(document(v.credentials, "endpoints"), Label)
}
