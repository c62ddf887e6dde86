package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Record is one observation in a drive recording. The type field picks
// the ingest endpoint; unused fields stay zero.
type Record struct {
	Type        string    `json:"type"` // location, proximity or tag
	At          time.Time `json:"at"`
	Lat         float64   `json:"lat,omitempty"`
	Lng         float64   `json:"lng,omitempty"`
	SpeedMps    float64   `json:"speed_mps,omitempty"`
	AccuracyM   float64   `json:"accuracy_m,omitempty"`
	ProximityID string    `json:"proximity_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Inside      bool      `json:"inside,omitempty"`
	Visible     bool      `json:"visible,omitempty"`
	Payload     string    `json:"payload,omitempty"`
}

// ReadRecording parses a JSON-lines stream. Blank lines are skipped; a
// malformed line aborts with its line number.
func ReadRecording(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

type Client struct {
	base   string
	token  string
	client *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type SessionSnapshot struct {
	State string `json:"state"`
}

func (c *Client) Send(rec Record) error {
	switch rec.Type {
	case "location":
		return c.post("/ingest/location", map[string]any{
			"lat":         rec.Lat,
			"lng":         rec.Lng,
			"speed_mps":   rec.SpeedMps,
			"accuracy_m":  rec.AccuracyM,
			"recorded_at": rec.At,
		}, nil)
	case "proximity":
		return c.post("/ingest/proximity", map[string]any{
			"proximity_id": rec.ProximityID,
			"kind":         rec.Kind,
			"inside":       rec.Inside,
			"visible":      rec.Visible,
		}, nil)
	case "tag":
		_, err := c.StartByTag(rec.Payload)
		return err
	default:
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
}

func (c *Client) StartByTag(payload string) (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := c.post("/ingest/tag", map[string]any{"payload": payload}, &snap)
	return snap, err
}

func (c *Client) EndSession() (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := c.post("/sessions/end", map[string]any{}, &snap)
	return snap, err
}

func (c *Client) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
