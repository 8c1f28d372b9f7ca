// Package model provides data-structs for internal app-usage
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

var StatusMap = map[Status]bool{
	StatusPending: true,
	StatusReady:   true,
	StatusFailed:  true,
}

//---------------------

// SourceObject describes an original upload as observed in storage.
// Version is the opaque storage token (ETag) tying records to exact bytes.
type SourceObject struct {
	Key         string    `json:"key"`
	Version     string    `json:"version"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// VariantRecord describes the resized derivative of a SourceObject.
// SourceVersion holds the version of the original the variant was built from.
type VariantRecord struct {
	Key           string    `json:"key"`
	Size          int64     `json:"size"`
	ContentType   string    `json:"content_type"`
	ProducedAt    time.Time `json:"produced_at"`
	SourceVersion string    `json:"source_version"`
}

// CatalogEntry joins an original with its variant state.
type CatalogEntry struct {
	Key      string         `json:"key"`
	Original SourceObject   `json:"original"`
	Variant  *VariantRecord `json:"variant,omitempty"`
	Status   Status         `json:"status"`
}

// UploadGrant is a short-lived authorization to write a single object.
// Never persisted - an expired grant is simply requested again.
type UploadGrant struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxSizeBytes int64     `json:"max_size_bytes"`
	AllowedTypes []string  `json:"allowed_types"`
}

// FailureRecord is the append-only trace of a permanently failed ingest.
type FailureRecord struct {
	ID            uuid.UUID `json:"id"`
	Key           string    `json:"key"`
	SourceVersion string    `json:"source_version"`
	LastError     string    `json:"last_error"`
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
}

//-------------------

// UploadNotification is the event the worker consumes when an upload lands.
// Delivered at-least-once; duplicates and reorderings are expected.
type UploadNotification struct {
	Key           string    `json:"key"`
	SourceVersion string    `json:"source_version"`
	Size          int64     `json:"size"`
	ContentType   string    `json:"content_type"`
	EventTime     time.Time `json:"event_time"`
}

// ParseNotification validates the raw queue payload before any state is touched.
func ParseNotification(raw []byte) (*UploadNotification, error) {
	var n UploadNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, ErrBadNotification
	}
	if err := ValidateKey(n.Key); err != nil {
		return nil, ErrBadNotification
	}
	if n.SourceVersion == "" {
		return nil, ErrBadNotification
	}
	if n.EventTime.IsZero() {
		n.EventTime = time.Now().UTC()
	}
	return &n, nil
}

// ValidateKey rejects keys that cannot name a single storage object.
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrIncorrectKey
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrIncorrectKey
	}
	return nil
}

//-------------------

// ListedImage is one row of the public catalog listing.
type ListedImage struct {
	Name      string        `json:"name"`
	Timestamp time.Time     `json:"timestamp"`
	Status    Status        `json:"status"`
	Original  LinkedObject  `json:"original"`
	Resized   *LinkedObject `json:"resized,omitempty"`
}

// LinkedObject is object metadata plus a temporary read URL.
type LinkedObject struct {
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// GrantRequest is the payload of an upload-grant request.
type GrantRequest struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// ------------------

var (
	ErrCommon500         error = errors.New("something went wrong. Try again later")          // 500
	ErrIncorrectKey      error = errors.New("incorrect object key")                           // 400
	ErrKeyConflict       error = errors.New("object with this key already exists")            // 409
	ErrEntryNotFound     error = errors.New("specified key doesn't exist in catalog")         // 404
	ErrObjectMissing     error = errors.New("object doesn't exist in storage")                //
	ErrVersionSuperseded error = errors.New("source version superseded by a newer upload")    //
	ErrSourceGone        error = errors.New("source object version no longer exists")         // terminal
	ErrDecode            error = errors.New("input bytes are not a decodable image")          // terminal
	ErrBadNotification   error = errors.New("malformed upload notification")                  // rejected at boundary
	ErrUnsupportedFormat error = errors.New("unsupported image format")                       // 400
	ErrSizeOverLimit     error = errors.New("declared size exceeds the allowed maximum")      // 400
	ErrAttemptsExhausted error = errors.New("retry attempts exhausted")                       //
	ErrUnitDeadline      error = errors.New("unit of work abandoned on deadline, redeliver")  //
)

//--------------------

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	GIF  = "image/gif"

	BinaryType = "application/octet-stream"
)

var GetImageFileExt = map[string]string{
	JPEG: ".jpg",
	PNG:  ".png",
	GIF:  ".gif",
}

var InImageTypeMap = map[string]bool{
	JPEG: true,
	PNG:  true,
	GIF:  true,
}

var GetCType = map[imaging.Format]string{
	imaging.JPEG: JPEG,
	imaging.GIF:  GIF,
	imaging.PNG:  PNG,
}

var GetFormat = map[string]imaging.Format{
	JPEG: imaging.JPEG,
	GIF:  imaging.GIF,
	PNG:  imaging.PNG,
}
