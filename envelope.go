package sentrykit

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"
)

// Envelope item types understood by this client.
const (
	itemTypeEvent        = "event"
	itemTypeTransaction  = "transaction"
	itemTypeSession      = "session"
	itemTypeSessions     = "sessions"
	itemTypeAttachment   = "attachment"
	itemTypeLog          = "log"
	itemTypeClientReport = "client_report"
	itemTypeCheckIn      = "check_in"
)

// EnvelopeHeader is the first line of a serialized envelope.
type EnvelopeHeader struct {
	EventID EventID           `json:"event_id,omitempty"`
	SentAt  *time.Time        `json:"sent_at,omitempty"`
	DSN     string            `json:"dsn,omitempty"`
	SDK     *ClientSDKInfo    `json:"sdk,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// EnvelopeItem is a single framed item: a JSON header line followed by
// exactly Length payload bytes.
type EnvelopeItem struct {
	Type           string
	Filename       string
	ContentType    string
	AttachmentType string
	ItemCount      int
	Payload        []byte
}

// itemHeader is the wire form of an item header. Length is a pointer so the
// parser can distinguish an absent length (payload runs to the next newline).
type itemHeader struct {
	Type           string `json:"type"`
	Length         *int64 `json:"length,omitempty"`
	Filename       string `json:"filename,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	ItemCount      int    `json:"item_count,omitempty"`
}

// Envelope is the framed on-wire container for one or more items.
type Envelope struct {
	Header EnvelopeHeader
	Items  []*EnvelopeItem
}

// NewEnvelope creates an empty envelope.
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// AddItem appends an item to the envelope.
func (e *Envelope) AddItem(item *EnvelopeItem) {
	e.Items = append(e.Items, item)
}

// EventItem returns the first event item payload, if any.
func (e *Envelope) EventItem() *EnvelopeItem {
	for _, item := range e.Items {
		if item.Type == itemTypeEvent {
			return item
		}
	}
	return nil
}

// Filter returns a copy of the envelope retaining only items accepted by
// keep. It returns nil if no item survives.
func (e *Envelope) Filter(keep func(*EnvelopeItem) bool) *Envelope {
	filtered := &Envelope{Header: e.Header}
	for _, item := range e.Items {
		if keep(item) {
			filtered.Items = append(filtered.Items, item)
		}
	}
	if len(filtered.Items) == 0 {
		return nil
	}
	return filtered
}

// WriteTo serializes the envelope: a JSON header line, then for each item a
// JSON header line with type and length, the payload bytes and a newline.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	var total int64

	header, err := json.Marshal(e.Header)
	if err != nil {
		return total, fmt.Errorf("failed to serialize envelope header: %w", err)
	}
	n, err := w.Write(append(header, '\n'))
	total += int64(n)
	if err != nil {
		return total, err
	}

	for _, item := range e.Items {
		length := int64(len(item.Payload))
		ih := itemHeader{
			Type:           item.Type,
			Length:         &length,
			Filename:       item.Filename,
			ContentType:    item.ContentType,
			AttachmentType: item.AttachmentType,
			ItemCount:      item.ItemCount,
		}
		headerLine, err := json.Marshal(ih)
		if err != nil {
			return total, fmt.Errorf("failed to serialize envelope item header: %w", err)
		}
		n, err = w.Write(append(headerLine, '\n'))
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write(item.Payload)
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write([]byte{'\n'})
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Serialize returns the envelope bytes.
func (e *Envelope) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseEnvelope reads a serialized envelope back into its typed form.
func ParseEnvelope(data []byte) (*Envelope, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	headerLine, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read envelope header: %w", err)
	}
	if len(bytes.TrimSpace(headerLine)) == 0 {
		return nil, fmt.Errorf("envelope is missing a header line")
	}

	env := &Envelope{}
	if err := json.Unmarshal(bytes.TrimSuffix(headerLine, []byte{'\n'}), &env.Header); err != nil {
		return nil, fmt.Errorf("malformed envelope header: %w", err)
	}

	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read item header: %w", err)
		}
		trimmed := bytes.TrimSuffix(line, []byte{'\n'})
		if len(bytes.TrimSpace(trimmed)) == 0 {
			continue
		}

		var ih itemHeader
		if err := json.Unmarshal(trimmed, &ih); err != nil {
			return nil, fmt.Errorf("malformed item header: %w", err)
		}
		if ih.Type == "" {
			return nil, fmt.Errorf("item header is missing a type")
		}

		item := &EnvelopeItem{
			Type:           ih.Type,
			Filename:       ih.Filename,
			ContentType:    ih.ContentType,
			AttachmentType: ih.AttachmentType,
			ItemCount:      ih.ItemCount,
		}

		if ih.Length != nil {
			payload := make([]byte, *ih.Length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("truncated item payload: %w", err)
			}
			item.Payload = payload
			// consume the trailing newline, if present
			if b, err := r.ReadByte(); err == nil && b != '\n' {
				if err := r.UnreadByte(); err != nil {
					return nil, err
				}
			}
		} else {
			payload, err := r.ReadBytes('\n')
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read item payload: %w", err)
			}
			item.Payload = bytes.TrimSuffix(payload, []byte{'\n'})
		}
		env.Items = append(env.Items, item)
	}
	return env, nil
}

// eventEnvelope wraps a single event into an envelope.
func eventEnvelope(event *Event, dsn *DSN, sdk *ClientSDKInfo) (*Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	now := time.Now().UTC()
	env := &Envelope{
		Header: EnvelopeHeader{
			EventID: event.EventID,
			SentAt:  &now,
			SDK:     sdk,
		},
	}
	if dsn != nil {
		env.Header.DSN = dsn.String
	}
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: payload})

	for _, attachment := range event.attachments {
		env.AddItem(&EnvelopeItem{
			Type:           itemTypeAttachment,
			Filename:       attachment.Filename,
			ContentType:    attachment.ContentType,
			AttachmentType: attachment.AttachmentType,
			Payload:        attachment.Payload,
		})
	}
	return env, nil
}
