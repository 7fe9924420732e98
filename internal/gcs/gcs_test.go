package gcs

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://statements/2024/oct.pdf", "statements", "2024/oct.pdf", false},
		{"gs://bucket/file.csv", "bucket", "file.csv", false},
		{"s3://bucket/file.csv", "", "", true},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"gs:///file.csv", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/file.pdf", "file.pdf"},
		{"gs://bucket/file.csv", "file.csv"},
		{"gs://bucket", "bucket"},
	}

	for _, tt := range tests {
		if got := ExtractFilenameFromGCSURI(tt.uri); got != tt.want {
			t.Errorf("ExtractFilenameFromGCSURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestObjectStoreObjectName(t *testing.T) {
	s := NewObjectStore(nil, "bucket", "/session/")
	if got := s.objectName("finease_mock_user"); got != "session/finease_mock_user.json" {
		t.Errorf("objectName = %q", got)
	}

	bare := NewObjectStore(nil, "bucket", "")
	if got := bare.objectName("k"); got != "k.json" {
		t.Errorf("objectName = %q", got)
	}
}
