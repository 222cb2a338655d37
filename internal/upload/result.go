package upload

import (
	"bytes"
	"encoding/json"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
)

// Result is the backend's reply to an upload. Both lists may be absent.
type Result struct {
	CreatedFiles []CreatedFile `json:"created_files"`
	Errors       []UploadError `json:"errors"`
}

// CreatedFile is one registered file. Depending on the backend version the
// reply holds the full data file record or only its file name; in the latter
// case only FileName is set.
type CreatedFile struct {
	portal.DataFile
}

// UnmarshalJSON accepts a data file object or a bare file name.
func (c *CreatedFile) UnmarshalJSON(data []byte) error {
	*c = CreatedFile{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.FileName = name
		return nil
	}
	return json.Unmarshal(data, &c.DataFile)
}

// UploadError is a per-file rejection reported alongside a successful upload.
type UploadError struct {
	File    string `json:"file,omitempty"`
	Message string `json:"error"`
}

// UnmarshalJSON accepts {file, error} or a plain message.
func (e *UploadError) UnmarshalJSON(data []byte) error {
	*e = UploadError{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		e.Message = msg
		return nil
	}
	type plain UploadError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = UploadError(p)
	return nil
}

func (e UploadError) String() string {
	if e.File == "" {
		return e.Message
	}
	return e.File + ": " + e.Message
}
