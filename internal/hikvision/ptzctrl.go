package hikvision

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/evihost/unifi-cam-proxy/internal/ptz"
)

// XMLNamespace is the ISAPI schema namespace
const XMLNamespace = "http://www.hikvision.com/ver20/XMLSchema"

// AbsoluteHigh carries absolute PTZ coordinates in device units
type AbsoluteHigh struct {
	AbsoluteZoom int `xml:"absoluteZoom"`
	Azimuth      int `xml:"azimuth"`
	Elevation    int `xml:"elevation"`
}

// PTZData is the absolute move request body
type PTZData struct {
	XMLName      xml.Name     `xml:"http://www.hikvision.com/ver20/XMLSchema PTZData"`
	Version      string       `xml:"version,attr"`
	AbsoluteHigh AbsoluteHigh `xml:"AbsoluteHigh"`
}

// PTZStatus is the reply of the PTZ status endpoint
type PTZStatus struct {
	XMLName      xml.Name     `xml:"PTZStatus"`
	AbsoluteHigh AbsoluteHigh `xml:"AbsoluteHigh"`
}

// PTZCapabilities probes the PTZ capabilities endpoint. A 4xx answer means the
// channel has no PTZ and is reported as (false, nil).
func (c *Client) PTZCapabilities(ctx context.Context, channel int) (bool, error) {
	path := fmt.Sprintf("/ISAPI/PTZCtrl/channels/%d/capabilities", channel)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(c.http, req)
	if err != nil {
		if IsClientError(err) {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return true, nil
}

// PTZStatus reads the current absolute position
func (c *Client) PTZStatus(ctx context.Context, channel int) (ptz.DevicePTZ, error) {
	path := fmt.Sprintf("/ISAPI/PTZCtrl/channels/%d/status", channel)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return ptz.DevicePTZ{}, err
	}
	resp, err := c.do(c.http, req)
	if err != nil {
		return ptz.DevicePTZ{}, err
	}
	defer resp.Body.Close()

	var status PTZStatus
	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ptz.DevicePTZ{}, fmt.Errorf("failed to decode PTZ status: %w", err)
	}

	return ptz.DevicePTZ{
		Azimuth:   status.AbsoluteHigh.Azimuth,
		Elevation: status.AbsoluteHigh.Elevation,
		Zoom:      status.AbsoluteHigh.AbsoluteZoom,
	}, nil
}

// AbsoluteMove moves the channel to an absolute position
func (c *Client) AbsoluteMove(ctx context.Context, channel int, pos ptz.DevicePTZ) error {
	body, err := MarshalPTZData(pos)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/ISAPI/PTZCtrl/channels/%d/absolute", channel)
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.do(c.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// MarshalPTZData renders the absolute move body for pos
func MarshalPTZData(pos ptz.DevicePTZ) ([]byte, error) {
	data := PTZData{
		Version: "2.0",
		AbsoluteHigh: AbsoluteHigh{
			AbsoluteZoom: pos.Zoom,
			Azimuth:      pos.Azimuth,
			Elevation:    pos.Elevation,
		},
	}
	out, err := xml.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode PTZ data: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
