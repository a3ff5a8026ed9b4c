package ultralight

const (
	HeaderContentLength = "content-length"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderSessionID     = "session-id"
	HeaderSubscription  = "subscription"
)

// Header is a single frame header.
type Header struct {
	Key   string
	Value string
}

// Headers are the frame headers in insertion order.
//
// Keys are case sensitive.  Setting a key that already exists replaces its value
// but keeps its original position.
//
// Set and Del never write to the backing array they were given, so copies of a Frame
// may be mutated independently.
type Headers []Header

// NewHeaders creates Headers from alternating key and value arguments.  A trailing
// key without a value is ignored.
func NewHeaders(kv ...string) Headers {
	var h Headers
	for n := 0; n+1 < len(kv); n += 2 {
		h.Set(kv[n], kv[n+1])
	}
	return h
}

// Get returns the value for key or the empty string.
func (h Headers) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup returns the value for key and true if the key is present.
func (h Headers) Lookup(key string) (string, bool) {
	for _, header := range h {
		if header.Key == key {
			return header.Value, true
		}
	}
	return "", false
}

// Set sets key to value; the last write wins.
func (h *Headers) Set(key, value string) {
	for n := range *h {
		if (*h)[n].Key == key {
			if (*h)[n].Value != value {
				rv := h.Clone()
				rv[n].Value = value
				*h = rv
			}
			return
		}
	}
	*h = append((*h)[:len(*h):len(*h)], Header{Key: key, Value: value})
}

// Del removes key.
func (h *Headers) Del(key string) {
	for n := range *h {
		if (*h)[n].Key == key {
			if len(*h) == 1 {
				*h = nil
				return
			}
			rv := make(Headers, 0, len(*h)-1)
			*h = append(append(rv, (*h)[:n]...), (*h)[n+1:]...)
			return
		}
	}
}

// Keys returns the header keys in insertion order.
func (h Headers) Keys() []string {
	var keys []string
	if n := len(h); n > 0 {
		keys = make([]string, 0, n)
		for _, header := range h {
			keys = append(keys, header.Key)
		}
	}
	return keys
}

// Clone returns a copy of h that shares no memory with h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	rv := make(Headers, len(h))
	copy(rv, h)
	return rv
}
