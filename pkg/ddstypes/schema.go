package ddstypes

// Encoding is the wire format a Schema's text is expressed in.
type Encoding string

const (
	EncodingROS2Msg Encoding = "ros2msg"
	EncodingOMGIDL  Encoding = "omgidl"
)

// BlankSchemaID is the id reserved for the placeholder schema used while a
// sample's real type has not yet been discovered (spec.md §3 "Blank schema").
const BlankSchemaID = 0

// Schema is (id, name, encoding, text). A blank schema has empty Data. The
// handler writes no Schema record for BlankSchemaID: channels bound to it
// carry schema id 0, and when the real type arrives it is registered under a
// new id and those channels are re-emitted bound to that id. The placeholder
// is not upgraded in place.
type Schema struct {
	ID       uint16
	Name     string
	Encoding Encoding
	Data     string
}

// IsBlank reports whether this is the zero-text placeholder created for a
// sample whose type has not been discovered yet.
func (s Schema) IsBlank() bool {
	return s.Data == ""
}

// Channel binds a topic to a schema inside one output file. A new Channel is
// emitted whenever the schema id bound to the topic changes (spec.md §3).
type Channel struct {
	ID              uint16
	TopicName       string
	MessageEncoding string // always "cdr"
	SchemaID        uint16
	Metadata        map[string]string // the handler always sets "qos", "ros2_types", "partitions"; the SQL reader sets only "qos" and "partitions"
}

// Message is one recorded sample.
type Message struct {
	Sequence      uint32
	ChannelID     uint16
	LogTimeNs     uint64
	PublishTimeNs uint64
	SourceGUID    string
	DataSize      uint32
	Payload       []byte
}

// DynamicTypeEntry is one entry of the dynamic-types collection persisted as
// the MCAP sidecar attachment / SQL Types table row.
type DynamicTypeEntry struct {
	TypeName        string
	TypeInformation []byte // base64 CDR of the TypeInformation, decoded form held in memory
	TypeObject      []byte // base64 CDR of the TypeObject, decoded form held in memory
}

// DynamicTypesCollection holds at most one entry per type name (spec.md §3
// invariant). It is not safe for concurrent use; callers serialize access
// through BaseHandler's coarse mutex.
type DynamicTypesCollection struct {
	order   []string
	entries map[string]DynamicTypeEntry
}

// NewDynamicTypesCollection returns an empty collection.
func NewDynamicTypesCollection() *DynamicTypesCollection {
	return &DynamicTypesCollection{
		entries: make(map[string]DynamicTypeEntry),
	}
}

// Has reports whether typeName is already present.
func (c *DynamicTypesCollection) Has(typeName string) bool {
	_, ok := c.entries[typeName]
	return ok
}

// Put inserts or replaces the entry for typeName, preserving first-seen
// ordering for stable re-serialization.
func (c *DynamicTypesCollection) Put(e DynamicTypeEntry) {
	if _, exists := c.entries[e.TypeName]; !exists {
		c.order = append(c.order, e.TypeName)
	}
	c.entries[e.TypeName] = e
}

// Entries returns the entries in insertion order.
func (c *DynamicTypesCollection) Entries() []DynamicTypeEntry {
	out := make([]DynamicTypeEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name])
	}
	return out
}

// Len returns the number of distinct type names held.
func (c *DynamicTypesCollection) Len() int {
	return len(c.order)
}

// FileRecord is the bookkeeping unit FileTracker uses to track closed files.
type FileRecord struct {
	ID        uint64
	Name      string
	SizeBytes uint64
}
