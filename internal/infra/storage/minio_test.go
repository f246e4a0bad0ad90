package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURLFormat(t *testing.T) {
	assert.Equal(t, "https://s3.local:9000/cases/cases/a.jpg", objectURL("https", "s3.local:9000", "cases", "cases/a.jpg"))
	assert.Equal(t, "http://minio/b/k", objectURL("", "minio", "b", "k"))
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	_, err := New(t.Context(), "http://not-a-host-port/", "", "b", "ak", "sk", false)
	assert.Error(t, err)
}
