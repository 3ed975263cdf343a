package httpcache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultMaxAge applies when a transport is built with a zero max age.
const DefaultMaxAge = time.Hour * 24

type cachedResponse struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *cachedResponse) makeResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		Header:        r.Header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

type Storage interface {
	Fetch(u *url.URL) (*cachedResponse, error)
	Save(u *url.URL, res *http.Response, now time.Time) (*cachedResponse, error)
}

var bboltBucketName = []byte("page_cache")

// BBoltStorage keeps scraped pages in a bbolt file, keyed by host and a hash
// of the full URL.
type BBoltStorage struct {
	db *bbolt.DB
}

func NewBBoltStorage(db *bbolt.DB) *BBoltStorage {
	return &BBoltStorage{db: db}
}

func makeBBoltKey(u *url.URL) []byte {
	h := sha1.New()
	io.WriteString(h, u.String())
	return []byte(filepath.Join(u.Host, hex.EncodeToString(h.Sum(nil))))
}

func (s *BBoltStorage) Fetch(u *url.URL) (*cachedResponse, error) {
	var d []byte

	if err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bboltBucketName)
		if b == nil {
			return nil
		}

		// values are only valid inside the transaction
		if v := b.Get(makeBBoltKey(u)); v != nil {
			d = append([]byte(nil), v...)
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: %w", err)
	}

	if d == nil {
		return nil, nil
	}

	var r cachedResponse
	if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&r); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: %w", err)
	}

	return &r, nil
}

func (s *BBoltStorage) Save(u *url.URL, res *http.Response, now time.Time) (*cachedResponse, error) {
	d, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	r := cachedResponse{
		UpdatedAt:  now,
		URL:        u.String(),
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       d,
	}

	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(r); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bboltBucketName)
		if err != nil {
			return err
		}

		return b.Put(makeBBoltKey(u), buf.Bytes())
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	return &r, nil
}

// Transport answers GET requests from storage while the stored copy is
// younger than maxAge. Only 200 responses are stored.
type Transport struct {
	transport http.RoundTripper
	storage   Storage
	maxAge    time.Duration
	now       func() time.Time
}

func NewTransport(transport http.RoundTripper, storage Storage, maxAge time.Duration) *Transport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	return &Transport{
		transport: transport,
		storage:   storage,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

func bypass(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return true
	}

	switch req.Header.Get("cache-control") {
	case "no-cache", "no-store":
		return true
	}

	return false
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if bypass(req) {
		return t.transport.RoundTrip(req)
	}

	now := t.now()

	if cr, err := t.storage.Fetch(req.URL); err == nil && cr != nil && now.Sub(cr.UpdatedAt) < t.maxAge {
		return cr.makeResponse(req), nil
	}

	res, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return res, nil
	}
	defer res.Body.Close()

	cr, err := t.storage.Save(req.URL, res, now)
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: %w", err)
	}

	return cr.makeResponse(req), nil
}
