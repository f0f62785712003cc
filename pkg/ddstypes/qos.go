// Package ddstypes holds the payload-agnostic data model shared by the
// handler, writers and replayer: topics, QoS, schemas, channels and messages.
package ddstypes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Reliability mirrors the DDS RELIABILITY QoS policy kinds relevant to recording.
type Reliability int

const (
	ReliabilityBestEffort Reliability = iota
	ReliabilityReliable
)

func (r Reliability) String() string {
	if r == ReliabilityReliable {
		return "reliable"
	}
	return "best_effort"
}

// Durability mirrors the DDS DURABILITY QoS policy kinds relevant to recording.
type Durability int

const (
	DurabilityVolatile Durability = iota
	DurabilityTransientLocal
	DurabilityTransient
	DurabilityPersistent
)

func (d Durability) String() string {
	switch d {
	case DurabilityTransientLocal:
		return "transient_local"
	case DurabilityTransient:
		return "transient"
	case DurabilityPersistent:
		return "persistent"
	default:
		return "volatile"
	}
}

// Ownership mirrors the DDS OWNERSHIP QoS policy kinds relevant to recording.
type Ownership int

const (
	OwnershipShared Ownership = iota
	OwnershipExclusive
)

func (o Ownership) String() string {
	if o == OwnershipExclusive {
		return "exclusive"
	}
	return "shared"
}

// TopicQoS is a value object: QoS never participates in topic identity
// (spec.md §3), it is carried as metadata only. Fuzzy marks a QoS that was
// synthesized by the DDS-side glue rather than read off discovery data.
type TopicQoS struct {
	Reliability Reliability
	Durability  Durability
	Ownership   Ownership
	Keyed       bool
	Partitions  []string
	Fuzzy       bool
}

// Encode produces the stable YAML-like string stored as Channel metadata.
// The format is intentionally simple and round-trippable by Decode; it is not
// meant to be valid YAML for any other consumer.
func (q TopicQoS) Encode() string {
	parts := make([]string, 0, len(q.Partitions))
	parts = append(parts, q.Partitions...)
	sort.Strings(parts)

	var b strings.Builder
	fmt.Fprintf(&b, "reliability: %s\n", q.Reliability)
	fmt.Fprintf(&b, "durability: %s\n", q.Durability)
	fmt.Fprintf(&b, "ownership: %s\n", q.Ownership)
	fmt.Fprintf(&b, "keyed: %t\n", q.Keyed)
	fmt.Fprintf(&b, "partitions: [%s]\n", strings.Join(parts, ","))
	fmt.Fprintf(&b, "fuzzy: %t\n", q.Fuzzy)
	return b.String()
}

// Decode parses the Encode format. Unknown keys are ignored so the format can
// grow without breaking old readers.
func Decode(s string) (TopicQoS, error) {
	var q TopicQoS
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return TopicQoS{}, fmt.Errorf("ddstypes: malformed qos line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		switch key {
		case "reliability":
			q.Reliability = parseReliability(val)
		case "durability":
			q.Durability = parseDurability(val)
		case "ownership":
			q.Ownership = parseOwnership(val)
		case "keyed":
			q.Keyed = val == "true"
		case "fuzzy":
			q.Fuzzy = val == "true"
		case "partitions":
			val = strings.TrimPrefix(val, "[")
			val = strings.TrimSuffix(val, "]")
			if val != "" {
				q.Partitions = strings.Split(val, ",")
			}
		}
	}
	return q, nil
}

func parseReliability(s string) Reliability {
	if s == "reliable" {
		return ReliabilityReliable
	}
	return ReliabilityBestEffort
}

func parseDurability(s string) Durability {
	switch s {
	case "transient_local":
		return DurabilityTransientLocal
	case "transient":
		return DurabilityTransient
	case "persistent":
		return DurabilityPersistent
	default:
		return DurabilityVolatile
	}
}

func parseOwnership(s string) Ownership {
	if s == "exclusive" {
		return OwnershipExclusive
	}
	return OwnershipShared
}

// TopicKey is the identity of a topic: (topic_name, type_name) plus the
// partition set. QoS is deliberately excluded (spec.md §3).
type TopicKey struct {
	TopicName  string
	TypeName   string
	Partitions string // canonical, comma-joined, sorted
}

// NewTopicKey canonicalizes the partition set before hashing/comparing.
func NewTopicKey(topicName, typeName string, partitions []string) TopicKey {
	sorted := append([]string(nil), partitions...)
	sort.Strings(sorted)
	return TopicKey{
		TopicName:  topicName,
		TypeName:   typeName,
		Partitions: strings.Join(sorted, ","),
	}
}

// Hash produces a fast, non-cryptographic fingerprint for use as a map key in
// hot ingestion paths where a struct key's equality check would otherwise
// re-walk the partitions string on every comparison.
func (k TopicKey) Hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.TopicName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(k.TypeName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(k.Partitions)
	return h.Sum64()
}
