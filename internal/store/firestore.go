package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
)

const defaultBaseURL = "https://firestore.googleapis.com/v1"

// FirestoreClient talks to the Firestore REST API. Upserts go through
// documents:commit so the write names the document (dedup key) and a
// server-time transform fills createdAt.
type FirestoreClient struct {
	projectID       string
	apiKey          string
	collection      string
	usersCollection string
	baseURL         string
	idToken         func() string
	httpClient      *http.Client
}

func NewFirestoreClient(cfg config.FirestoreConfig, idToken func() string) *FirestoreClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if idToken == nil {
		idToken = func() string { return "" }
	}
	return &FirestoreClient{
		projectID:       cfg.ProjectID,
		apiKey:          cfg.APIKey,
		collection:      cfg.Collection,
		usersCollection: cfg.UsersCollection,
		baseURL:         base,
		idToken:         idToken,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

type fsValue struct {
	StringValue  *string `json:"stringValue,omitempty"`
	IntegerValue string  `json:"integerValue,omitempty"`
}

func strValue(s string) fsValue { return fsValue{StringValue: &s} }

type fsDocument struct {
	Name   string             `json:"name"`
	Fields map[string]fsValue `json:"fields"`
}

type fsFieldTransform struct {
	FieldPath       string `json:"fieldPath"`
	SetToServerTime string `json:"setToServerTime"`
}

type fsWrite struct {
	Update           *fsDocument        `json:"update,omitempty"`
	UpdateTransforms []fsFieldTransform `json:"updateTransforms,omitempty"`
}

type fsCommitRequest struct {
	Writes []fsWrite `json:"writes"`
}

func (c *FirestoreClient) root() string {
	return fmt.Sprintf("projects/%s/databases/(default)/documents", c.projectID)
}

func (c *FirestoreClient) docName(collection, id string) string {
	return fmt.Sprintf("%s/%s/%s", c.root(), collection, id)
}

func (c *FirestoreClient) Upsert(ctx context.Context, rec ForwardRecord) error {
	req := fsCommitRequest{
		Writes: []fsWrite{{
			Update: &fsDocument{
				Name: c.docName(c.collection, rec.DedupKey),
				Fields: map[string]fsValue{
					"amount":    {IntegerValue: strconv.FormatInt(rec.Amount, 10)},
					"bank":      strValue(rec.Bank),
					"rawText":   strValue(rec.RawText),
					"ownerId":   strValue(rec.OwnerID),
					"timestamp": strValue(rec.Timestamp.Format(time.RFC3339)),
				},
			},
			UpdateTransforms: []fsFieldTransform{
				{FieldPath: "createdAt", SetToServerTime: "REQUEST_TIME"},
			},
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal commit: %w", err)
	}

	url := fmt.Sprintf("%s/%s:commit", c.baseURL, c.root())
	if _, err := c.do(ctx, http.MethodPost, url, body); err != nil {
		return fmt.Errorf("firestore commit: %w", err)
	}
	return nil
}

// FetchRole reads the role field of the session's user document.
func (c *FirestoreClient) FetchRole(ctx context.Context, uid string) (string, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.docName(c.usersCollection, uid))
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch role for %s: %w", uid, err)
	}
	return gjson.GetBytes(data, "fields.role.stringValue").String(), nil
}

func (c *FirestoreClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.idToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
	}
	return data, nil
}
