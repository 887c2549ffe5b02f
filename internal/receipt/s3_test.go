package receipt

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockS3 is a mock implementation of S3API keyed by object key
type mockS3 struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	m.objects[key] = data
	m.contentTypes[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

var _ = Describe("S3Storage", func() {
	var (
		ctx     context.Context
		client  *mockS3
		storage *S3Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newMockS3()
		storage = NewS3Storage(client, "receipts-bucket", "uploads")
	})

	It("should upload under the prefix and return the bare name", func() {
		name, err := storage.Save(ctx, "r1_receipt.png", []byte("\x89PNG\r\n\x1a\nrest"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("r1_receipt.png"))
		Expect(client.objects).To(HaveKey("uploads/r1_receipt.png"))
		Expect(client.contentTypes["uploads/r1_receipt.png"]).To(Equal("image/png"))
	})

	It("should round trip a file", func() {
		_, err := storage.Save(ctx, "r1.jpg", []byte("content"))
		Expect(err).NotTo(HaveOccurred())

		data, err := storage.Get(ctx, "r1.jpg")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("content")))
	})

	It("should delete a file", func() {
		_, err := storage.Save(ctx, "r1.jpg", []byte("content"))
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.Delete(ctx, "r1.jpg")).To(Succeed())
		Expect(client.objects).To(BeEmpty())
	})

	It("should report a missing object", func() {
		_, err := storage.Get(ctx, "missing.jpg")
		var noSuchKey *types.NoSuchKey
		Expect(errors.As(err, &noSuchKey)).To(BeTrue())
	})

	It("should use bare keys without a prefix", func() {
		storage = NewS3Storage(client, "receipts-bucket", "")
		_, err := storage.Save(ctx, "r1.jpg", []byte("content"))
		Expect(err).NotTo(HaveOccurred())
		Expect(client.objects).To(HaveKey("r1.jpg"))
	})

	When("the upload fails", func() {
		BeforeEach(func() {
			client.putErr = errors.New("access denied")
		})

		It("should wrap the error", func() {
			_, err := storage.Save(ctx, "r1.jpg", []byte("content"))
			Expect(err).To(MatchError(ContainSubstring("uploading r1.jpg")))
		})
	})

	Describe("S3Options", func() {
		It("should set a custom endpoint and path style", func() {
			opts := s3.Options{}
			S3Options("http://localhost:9000", true)(&opts)
			Expect(aws.ToString(opts.BaseEndpoint)).To(Equal("http://localhost:9000"))
			Expect(opts.UsePathStyle).To(BeTrue())
		})

		It("should leave the endpoint alone when empty", func() {
			opts := s3.Options{}
			S3Options("", false)(&opts)
			Expect(opts.BaseEndpoint).To(BeNil())
		})
	})
})
