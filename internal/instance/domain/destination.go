package domain

// UpstreamID is the reserved destination id of the fixed upstream provider.
const UpstreamID = "wakatime"

// MirrorsID is owed in place of the user's mirrors when they could not be
// listed at ingest time. Delivery expands it to the active mirrors.
const MirrorsID = "mirrors"

const (
	KindUpstream = "upstream"
	KindMirror   = "mirror"
)

// Destination is any endpoint that receives forwarded heartbeats.
type Destination struct {
	ID      string
	Kind    string
	Name    string
	BaseURL string
	Token   string
}

func (d Destination) IsUpstream() bool {
	return d.ID == UpstreamID
}
