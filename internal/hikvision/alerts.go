package hikvision

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// Motion alarm classification
const (
	MotionEventType        = "VMD"
	MotionEventDescription = "Motion alarm"
)

const alertStreamPath = "/ISAPI/Event/notification/alertStream?count=1"

// EventNotificationAlert is one record of the alert stream
type EventNotificationAlert struct {
	XMLName          xml.Name `xml:"EventNotificationAlert"`
	IPAddress        string   `xml:"ipAddress"`
	PortNo           int      `xml:"portNo"`
	ProtocolType     string   `xml:"protocolType"`
	MacAddress       string   `xml:"macAddress"`
	ChannelID        int      `xml:"channelID"`
	DateTime         string   `xml:"dateTime"`
	ActivePostCount  int      `xml:"activePostCount"`
	EventType        string   `xml:"eventType"`
	EventState       string   `xml:"eventState"`
	EventDescription string   `xml:"eventDescription"`
}

// IsMotion reports whether the record is a motion alarm
func (a *EventNotificationAlert) IsMotion() bool {
	return a.EventType == MotionEventType && a.EventDescription == MotionEventDescription
}

// AlertStream reads records from an open alert stream connection
type AlertStream struct {
	body io.ReadCloser
	next func() (*EventNotificationAlert, error)
}

// OpenAlertStream opens the long-lived alert stream. The connection is held
// until ctx is cancelled, the device closes it or Close is called.
func (c *Client) OpenAlertStream(ctx context.Context) (*AlertStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, alertStreamPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.stream, req)
	if err != nil {
		return nil, err
	}
	return NewAlertStream(resp.Body, resp.Header.Get("Content-Type")), nil
}

// NewAlertStream wraps body. A multipart content type is read part by part,
// anything else is treated as concatenated XML documents.
func NewAlertStream(body io.ReadCloser, contentType string) *AlertStream {
	s := &AlertStream{body: body}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		s.next = multipartReader(multipart.NewReader(body, params["boundary"]))
	} else {
		s.next = xmlReader(xml.NewDecoder(body))
	}
	return s
}

// Next returns the next alert record. io.EOF is returned when the device
// closes the stream. Unparseable records yield an error wrapping
// ErrMalformedRecord.
func (s *AlertStream) Next() (*EventNotificationAlert, error) {
	return s.next()
}

// Close closes the underlying connection and unblocks a pending Next
func (s *AlertStream) Close() error {
	return s.body.Close()
}

// multipartReader returns each record as soon as its closing tag has been
// read. Devices write the next boundary only when the next record is ready,
// so the rest of a part is discarded by the following NextPart.
func multipartReader(mr *multipart.Reader) func() (*EventNotificationAlert, error) {
	return func() (*EventNotificationAlert, error) {
		for {
			part, err := mr.NextPart()
			if err != nil {
				return nil, err
			}

			if !isXMLPart(part.Header.Get("Content-Type")) {
				// Some firmwares attach snapshots to alarms
				continue
			}

			alert, err := decodeAlert(xml.NewDecoder(part))
			if errors.Is(err, io.EOF) {
				// Part without a record
				continue
			}
			if err != nil {
				return nil, err
			}
			return alert, nil
		}
	}
}

func xmlReader(dec *xml.Decoder) func() (*EventNotificationAlert, error) {
	return func() (*EventNotificationAlert, error) {
		return decodeAlert(dec)
	}
}

// decodeAlert reads tokens up to the next EventNotificationAlert element and
// decodes it without reading past its end tag. io.EOF means the input ended
// before a record started.
func decodeAlert(dec *xml.Decoder) (*EventNotificationAlert, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "EventNotificationAlert" {
			continue
		}

		var alert EventNotificationAlert
		if err := dec.DecodeElement(&alert, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return &alert, nil
	}
}

// ParseAlert decodes a single EventNotificationAlert document
func ParseAlert(data []byte) (*EventNotificationAlert, error) {
	var alert EventNotificationAlert
	if err := xml.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &alert, nil
}

func isXMLPart(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/xml" || mediaType == "text/xml"
}
