package blob

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-faster/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/werr"
)

type fakeS3 struct {
	objects     map[string][]byte
	contentType map[string]string
	putFailures int
	puts        int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.putFailures > 0 {
		f.putFailures--
		return nil, errors.New("transient upstream failure")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	f.contentType[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	return &v4PresignedRequest{URL: "https://signed.example/" + *in.Key}, nil
}

var _ = Describe("Content addressing", func() {
	It("keys objects by namespace, action and sha256", func() {
		hash := Hash([]byte("function main() {}"))
		Expect(hash).To(HaveLen(64))
		Expect(ObjectKey("guest", "hello", hash)).To(Equal("actions/guest/hello/" + hash))
	})

	It("hashes identical code identically", func() {
		Expect(Hash([]byte("same"))).To(Equal(Hash([]byte("same"))))
		Expect(Hash([]byte("same"))).NotTo(Equal(Hash([]byte("other"))))
	})
})

var _ = Describe("Blob store", func() {
	var (
		ctx  context.Context
		fake *fakeS3
		st   *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = newFakeS3()
		st = &Store{
			client:     fake,
			presign:    fakePresigner{},
			bucket:     "actions",
			maxRetries: 3,
			log:        zap.NewNop(),
		}
	})

	It("stores code under its content address", func() {
		code := []byte("def main(args): return args")
		hash, err := st.Put(ctx, "guest", "hello", code, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).To(Equal(Hash(code)))

		key := ObjectKey("guest", "hello", hash)
		Expect(fake.objects).To(HaveKey(key))
		Expect(fake.contentType[key]).To(Equal("text/plain"))
	})

	It("marks binary payloads as octet streams", func() {
		hash, err := st.Put(ctx, "guest", "zipped", []byte("UEsDBA=="), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.contentType[ObjectKey("guest", "zipped", hash)]).To(Equal("application/octet-stream"))
	})

	It("retries transient failures before succeeding", func() {
		fake.putFailures = 2
		_, err := st.Put(ctx, "guest", "hello", []byte("code"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.puts).To(Equal(3))
	})

	It("gives up after the retry budget", func() {
		fake.putFailures = 5
		_, err := st.Put(ctx, "guest", "hello", []byte("code"), false)
		Expect(werr.IsKind(err, werr.KindServiceUnavailable)).To(BeTrue())
		Expect(fake.puts).To(Equal(3))
	})

	It("round-trips code through Get", func() {
		code := []byte("exports.main = () => ({})")
		hash, err := st.Put(ctx, "guest", "hello", code, false)
		Expect(err).NotTo(HaveOccurred())

		got, err := st.Get(ctx, "guest", "hello", hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(code))
	})

	It("classifies a missing blob as not found without retrying", func() {
		_, err := st.Get(ctx, "guest", "hello", "unknownhash")
		Expect(werr.IsKind(err, werr.KindNotFound)).To(BeTrue())
	})

	It("deletes blobs", func() {
		hash, err := st.Put(ctx, "guest", "hello", []byte("code"), false)
		Expect(err).NotTo(HaveOccurred())

		gone, err := st.Delete(ctx, "guest", "hello", hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(gone).To(BeTrue())
		Expect(fake.objects).To(BeEmpty())
	})

	It("presigns download URLs for invokers", func() {
		url, err := st.PresignedGet(ctx, "guest", "hello", "deadbeef", 15*time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("https://signed.example/actions/guest/hello/deadbeef"))
	})
})
