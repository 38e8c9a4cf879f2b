package s3

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "ns/deck.pdf", want: "ns/deck.pdf"},
		{name: "prefix", prefix: "uploads", key: "ns/deck.pdf", want: "uploads/ns/deck.pdf"},
		{name: "slashes on both", prefix: "/uploads/", key: "/ns/deck.pdf", want: "uploads/ns/deck.pdf"},
		{name: "empty key", prefix: "uploads", key: "", want: "uploads"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestEncryptChoosesKMSWhenKeySet(t *testing.T) {
	in := &s3.PutObjectInput{}
	(&Store{kmsKeyID: "alias/uploads"}).encrypt(in)
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(in.SSEKMSKeyId) != "alias/uploads" {
		t.Fatalf("expected kms encryption, got %+v", in)
	}

	in = &s3.PutObjectInput{}
	(&Store{}).encrypt(in)
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAes256 || in.SSEKMSKeyId != nil {
		t.Fatalf("expected AES256 encryption, got %+v", in)
	}
}
