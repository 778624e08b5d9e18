package cbc

import (
	"time"

	"cbdispatch/internal/types"
)

// broadcastHeadline is the fixed headline transmitted with every alert and
// update payload.
const broadcastHeadline = "GOV.UK Notify Broadcast"

// linkTestMessageType is the wire message_type used by connectivity probes.
const linkTestMessageType = "test"

// wirePayload is the JSON body POSTed to a CBC ingestion endpoint. The two
// families share the shape; the sequenced family additionally populates
// MessageNumber at the top level and inside each reference.
type wirePayload struct {
	MessageType   string          `json:"message_type"`
	Identifier    string          `json:"identifier"`
	MessageFormat string          `json:"message_format"`
	MessageNumber string          `json:"message_number,omitempty"`
	Headline      string          `json:"headline,omitempty"`
	Description   string          `json:"description,omitempty"`
	Areas         []wireArea      `json:"areas,omitempty"`
	Sent          string          `json:"sent"`
	Expires       string          `json:"expires,omitempty"`
	Language      string          `json:"language,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	References    []wireReference `json:"references,omitempty"`
}

// wireArea carries one simplified polygon as [[lat, lon], ...].
type wireArea struct {
	Polygon types.Polygon `json:"polygon"`
}

// wireReference identifies one earlier transmitted event of the message.
type wireReference struct {
	MessageID     string `json:"message_id"`
	Sent          string `json:"sent"`
	MessageNumber string `json:"message_number,omitempty"`
}

// encoder is the per-family encode strategy composed into a Client.
type encoder interface {
	Family() Family
	EncodeAlert(p EventPayload) (*wirePayload, error)
	EncodeUpdate(p EventPayload, previous []Reference) (*wirePayload, error)
	EncodeCancel(p EventPayload, previous []Reference) (*wirePayload, error)
	EncodeLinkTest(identifier string, number *int64, sent time.Time) *wirePayload
}

// capEncoder builds the one-to-many family payloads (message_format "cap").
type capEncoder struct {
	languages languagePair
}

func (e *capEncoder) Family() Family { return FamilyCAP }

func (e *capEncoder) EncodeAlert(p EventPayload) (*wirePayload, error) {
	return encodeContentPayload(FamilyCAP, p, nil, e.languages)
}

func (e *capEncoder) EncodeUpdate(p EventPayload, previous []Reference) (*wirePayload, error) {
	return encodeContentPayload(FamilyCAP, p, previous, e.languages)
}

func (e *capEncoder) EncodeCancel(p EventPayload, previous []Reference) (*wirePayload, error) {
	return encodeCancelPayload(FamilyCAP, p, previous)
}

func (e *capEncoder) EncodeLinkTest(identifier string, _ *int64, sent time.Time) *wirePayload {
	return encodeLinkTestPayload(FamilyCAP, identifier, "", sent)
}

// ibagEncoder builds the sequenced family payloads (message_format "ibag").
// Every payload carries a message number; references carry the number of the
// event they point at.
type ibagEncoder struct {
	languages languagePair
}

func (e *ibagEncoder) Family() Family { return FamilyIBAG }

func (e *ibagEncoder) EncodeAlert(p EventPayload) (*wirePayload, error) {
	wp, err := encodeContentPayload(FamilyIBAG, p, nil, e.languages)
	if err != nil {
		return nil, err
	}
	return e.number(wp, p)
}

func (e *ibagEncoder) EncodeUpdate(p EventPayload, previous []Reference) (*wirePayload, error) {
	wp, err := encodeContentPayload(FamilyIBAG, p, previous, e.languages)
	if err != nil {
		return nil, err
	}
	return e.number(wp, p)
}

func (e *ibagEncoder) EncodeCancel(p EventPayload, previous []Reference) (*wirePayload, error) {
	wp, err := encodeCancelPayload(FamilyIBAG, p, previous)
	if err != nil {
		return nil, err
	}
	return e.number(wp, p)
}

func (e *ibagEncoder) EncodeLinkTest(identifier string, number *int64, sent time.Time) *wirePayload {
	formatted := ""
	if number != nil {
		formatted = FormatSequenceNumber(*number)
	}
	return encodeLinkTestPayload(FamilyIBAG, identifier, formatted, sent)
}

// number stamps the payload with the event's assigned sequence value.
// A missing number is a payload construction failure, never silently sent.
func (e *ibagEncoder) number(wp *wirePayload, p EventPayload) (*wirePayload, error) {
	if p.Number == nil {
		return nil, types.NewAppError(types.ErrCodeProviderPayload,
			"sequenced payload requires a message number", nil)
	}
	wp.MessageNumber = FormatSequenceNumber(*p.Number)
	return wp, nil
}

// encodeContentPayload builds an alert or update payload: the fields both
// families share, with language inferred from the body. The references slice
// is nil for alerts and the full earlier-event list for updates.
func encodeContentPayload(family Family, p EventPayload, previous []Reference, languages languagePair) (*wirePayload, error) {
	ev := p.Event
	if ev.Content.Body == "" {
		return nil, types.NewAppError(types.ErrCodeProviderPayload,
			"broadcast event has no content body", nil)
	}
	if ev.Areas.Empty() {
		return nil, types.NewAppError(types.ErrCodeProviderPayload,
			"broadcast event has no transmittable areas", nil)
	}

	return &wirePayload{
		MessageType:   string(ev.MessageType),
		Identifier:    ev.ID,
		MessageFormat: string(family),
		Headline:      broadcastHeadline,
		Description:   ev.Content.Body,
		Areas:         encodeAreas(ev.Areas),
		Sent:          formatCBCTime(ev.SentAt),
		Expires:       formatCBCTime(ev.TransmittedFinishesAt),
		Language:      inferLanguage(ev.Content.Body, languages),
		Channel:       string(p.Channel),
		References:    encodeReferences(family, previous),
	}, nil
}

// encodeCancelPayload builds a cancel payload. Cancels carry no free text,
// so no headline, description, expiry, language, or channel is transmitted;
// the references name every earlier event of the message, oldest first.
func encodeCancelPayload(family Family, p EventPayload, previous []Reference) (*wirePayload, error) {
	ev := p.Event
	if len(previous) == 0 {
		return nil, types.NewAppError(types.ErrCodeProviderPayload,
			"cancel payload requires at least one earlier event reference", nil)
	}

	return &wirePayload{
		MessageType:   string(ev.MessageType),
		Identifier:    ev.ID,
		MessageFormat: string(family),
		Areas:         encodeAreas(ev.Areas),
		Sent:          formatCBCTime(ev.SentAt),
		References:    encodeReferences(family, previous),
	}, nil
}

func encodeLinkTestPayload(family Family, identifier, formattedNumber string, sent time.Time) *wirePayload {
	return &wirePayload{
		MessageType:   linkTestMessageType,
		Identifier:    identifier,
		MessageFormat: string(family),
		MessageNumber: formattedNumber,
		Sent:          formatCBCTime(sent),
	}
}

func encodeAreas(areas types.AreaList) []wireArea {
	out := make([]wireArea, 0, len(areas.SimplePolygons))
	for _, polygon := range areas.SimplePolygons {
		out = append(out, wireArea{Polygon: polygon})
	}
	return out
}

func encodeReferences(family Family, previous []Reference) []wireReference {
	if len(previous) == 0 {
		return nil
	}
	out := make([]wireReference, 0, len(previous))
	for _, ref := range previous {
		wr := wireReference{
			MessageID: ref.EventID,
			Sent:      formatCBCTime(ref.Sent),
		}
		if family == FamilyIBAG && ref.Number != nil {
			wr.MessageNumber = FormatSequenceNumber(*ref.Number)
		}
		out = append(out, wr)
	}
	return out
}
