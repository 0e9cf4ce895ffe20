package storage

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
)

const testBucket = "travel-assets"

func newTestStore(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3(testBucket)
	store := NewS3StoreWithAPI(fake, fake, StoreConfig{
		Bucket:        testBucket,
		PublicBaseURL: "https://cdn.example.com/" + testBucket + "/",
	}, logging.Discard())

	var n atomic.Int64
	store.newID = func() string { return fmt.Sprintf("id%03d", n.Add(1)) }
	return store, fake
}

func TestFindOrCreateFolder_Idempotent(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	parent, err := store.FindOrCreateFolder(ctx, "assets", "")
	require.NoError(t, err)
	assert.Equal(t, "assets/", parent)

	first, err := store.FindOrCreateFolder(ctx, "X", parent)
	require.NoError(t, err)
	second, err := store.FindOrCreateFolder(ctx, "X", parent)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "assets/X/", first)

	folders, err := store.ListFolders(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/X/"}, folders)
	assert.Equal(t, 2, fake.count("put"), "one marker per folder")
}

func TestFindOrCreateFolder_ConcurrentCallersShareOneFolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.FindOrCreateFolder(ctx, "invoices", "")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "invoices/", id)
	}
	folders, err := store.ListFolders(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices/"}, folders)
}

func TestFindOrCreateFolder_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store, fake := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.headHook = func(ctx context.Context, _ string) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := store.FindOrCreateFolder(ctx, "invoices", "")
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := store.FindOrCreateFolder(context.Background(), "invoices", "")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	require.NoError(t, <-second)
	<-first
	assert.True(t, fake.has("invoices/"))
}

func TestFindOrCreateFolder_LosesRaceToAnotherProcess(t *testing.T) {
	store, fake := newTestStore(t)

	// another process writes the marker between our HEAD and PUT
	fake.putErr = func(key string) error {
		fake.objects[key] = &fakeObject{contentType: folderContentType}
		return nil
	}

	id, err := store.FindOrCreateFolder(context.Background(), "audio", "")
	require.NoError(t, err)
	assert.Equal(t, "audio/", id)
	assert.Len(t, fake.objects, 1)
}

func TestFindOrCreateFolder_InvalidInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindOrCreateFolder(ctx, "  ", "")
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = store.FindOrCreateFolder(ctx, "a/b", "")
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = store.FindOrCreateFolder(ctx, "docs", "no-trailing-slash")
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestUpload_PrivateReturnsSignedURL(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upload(ctx, "assets/docs/", "passport scan.pdf", "application/pdf", []byte("%PDF"), Private)
	require.NoError(t, err)

	assert.Equal(t, "assets/docs/id001_passport scan.pdf", res.ObjectID)
	assert.Contains(t, res.URL, "X-Amz-Signature")
	assert.Contains(t, res.URL, "passport%20scan.pdf")
	assert.Equal(t, 0, fake.count("acl"))

	obj := fake.objects[res.ObjectID]
	require.NotNil(t, obj)
	assert.Equal(t, "application/pdf", obj.contentType)
	assert.Equal(t, types.ObjectCannedACLPrivate, obj.acl)
	assert.Equal(t, "private", obj.metadata[metaVisibility])
}

func TestUpload_PublicGrantsReadAndReturnsPublicURL(t *testing.T) {
	store, fake := newTestStore(t)

	res, err := store.Upload(context.Background(), "assets/products/", "a.jpg", "image/jpeg", []byte{0xff, 0xd8}, Public)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/travel-assets/assets/products/id001_a.jpg", res.URL)
	assert.Equal(t, types.ObjectCannedACLPublicRead, fake.objects[res.ObjectID].acl)
}

func TestUpload_GrantFailureRollsBack(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	fake.aclErr = func(string, int) error {
		return &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	}

	res, err := store.Upload(ctx, "assets/products/", "a.jpg", "image/jpeg", []byte("img"), Public)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Empty(t, res.ObjectID)
	assert.False(t, fake.has("assets/products/id001_a.jpg"), "orphan must be deleted")

	assets, err := store.ListFolderContents(ctx, "assets/products/")
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestUpload_GrantFailureKeepsTransientKind(t *testing.T) {
	store, fake := newTestStore(t)

	fake.aclErr = func(string, int) error {
		return &smithy.GenericAPIError{Code: "SlowDown"}
	}

	_, err := store.Upload(context.Background(), "", "a.jpg", "image/jpeg", []byte("img"), Public)
	require.ErrorIs(t, err, common.ErrRateLimited)
	assert.Empty(t, fake.objects)
}

func TestUpload_RollbackFailureReportsOriginalError(t *testing.T) {
	store, fake := newTestStore(t)

	fake.aclErr = func(string, int) error { return &smithy.GenericAPIError{Code: "AccessDenied"} }
	fake.deleteErr = func(string) error { return errors.New("connection reset") }

	_, err := store.Upload(context.Background(), "", "a.jpg", "image/jpeg", []byte("img"), Public)
	require.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.NotContains(t, err.Error(), "connection reset")
}

func TestUpload_PresignFailureRollsBack(t *testing.T) {
	store, fake := newTestStore(t)
	fake.presignErr = errors.New("signer unavailable")

	_, err := store.Upload(context.Background(), "docs/", "visa.pdf", "application/pdf", []byte("x"), Private)
	require.Error(t, err)
	assert.Empty(t, fake.objects)
}

func TestUpload_InvalidInput(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "docs/", "", "application/pdf", []byte("x"), Private)
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = store.Upload(ctx, "docs/", "a.pdf", "application/pdf", []byte("x"), Visibility("shared"))
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, 0, fake.count("put"))
}

func TestDelete_IdempotentAndAcceptsURLs(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	pub, err := store.Upload(ctx, "p/", "a.jpg", "image/jpeg", []byte("1"), Public)
	require.NoError(t, err)
	priv, err := store.Upload(ctx, "d/", "b.pdf", "application/pdf", []byte("2"), Private)
	require.NoError(t, err)
	plain, err := store.Upload(ctx, "d/", "c.pdf", "application/pdf", []byte("3"), Private)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, pub.URL))
	require.NoError(t, store.Delete(ctx, priv.URL))
	require.NoError(t, store.Delete(ctx, plain.ObjectID))
	assert.Empty(t, fake.objects)

	require.NoError(t, store.Delete(ctx, plain.ObjectID), "deleting twice is not an error")

	fake.deleteErr = func(string) error { return &types.NoSuchKey{} }
	require.NoError(t, store.Delete(ctx, "d/gone.pdf"))

	fake.deleteErr = func(string) error { return &smithy.GenericAPIError{Code: "AccessDenied"} }
	require.ErrorIs(t, store.Delete(ctx, "d/locked.pdf"), common.ErrPermissionDenied)

	require.ErrorIs(t, store.Delete(ctx, " "), common.ErrInvalidInput)
}

func TestObjectKey(t *testing.T) {
	store, _ := newTestStore(t)

	cases := []struct{ in, want string }{
		{in: "assets/a.jpg", want: "assets/a.jpg"},
		{in: "/assets/a.jpg", want: "assets/a.jpg"},
		{in: "https://cdn.example.com/travel-assets/assets/a%20b.jpg", want: "assets/a b.jpg"},
		{in: "http://127.0.0.1:9000/travel-assets/assets/a.jpg?X-Amz-Date=1", want: "assets/a.jpg"},
	}
	for _, tc := range cases {
		got, err := store.objectKey(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestObjectKey_PublicBaseAtDomainRoot(t *testing.T) {
	fake := newFakeS3("assets")
	store := NewS3StoreWithAPI(fake, fake, StoreConfig{
		Bucket:        "assets",
		PublicBaseURL: "https://cdn.example.com",
	}, logging.Discard())

	key := "assets/customer-documents/id_x.pdf"
	got, err := store.objectKey(store.publicURL(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = store.objectKey("http://minio:9000/assets/" + key + "?X-Amz-Date=1")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestDelete_ByPublicURLAtDomainRoot(t *testing.T) {
	fake := newFakeS3("assets")
	store := NewS3StoreWithAPI(fake, fake, StoreConfig{
		Bucket:        "assets",
		PublicBaseURL: "https://cdn.example.com",
	}, logging.Discard())
	ctx := context.Background()

	res, err := store.Upload(ctx, "assets/customer-documents/", "x.pdf", "application/pdf", []byte("pdf"), Public)
	require.NoError(t, err)
	require.True(t, fake.has(res.ObjectID))

	require.NoError(t, store.Delete(ctx, res.URL))
	assert.False(t, fake.has(res.ObjectID))
}

func TestMove(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upload(ctx, "inbox/", "a.jpg", "image/jpeg", []byte("img"), Public)
	require.NoError(t, err)

	newID, err := store.Move(ctx, res.ObjectID, "archive/", "inbox/")
	require.NoError(t, err)
	assert.Equal(t, "archive/id001_a.jpg", newID)
	assert.False(t, fake.has(res.ObjectID))
	require.True(t, fake.has(newID))
	assert.Equal(t, types.ObjectCannedACLPublicRead, fake.objects[newID].acl)

	same, err := store.Move(ctx, newID, "archive/", "")
	require.NoError(t, err)
	assert.Equal(t, newID, same)

	_, err = store.Move(ctx, newID, "other/", "inbox/")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.Move(ctx, "inbox/missing.jpg", "archive/", "")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMove_SourceDeleteFailureRemovesCopy(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upload(ctx, "inbox/", "b.pdf", "application/pdf", []byte("doc"), Private)
	require.NoError(t, err)

	fake.deleteErr = func(key string) error {
		if key == res.ObjectID {
			return &smithy.GenericAPIError{Code: "AccessDenied"}
		}
		return nil
	}

	_, err = store.Move(ctx, res.ObjectID, "archive/", "")
	require.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.True(t, fake.has(res.ObjectID))
	assert.False(t, fake.has("archive/id001_b.pdf"))
}

func TestListFolderContents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	folder, err := store.FindOrCreateFolder(ctx, "docs", "")
	require.NoError(t, err)
	_, err = store.FindOrCreateFolder(ctx, "nested", folder)
	require.NoError(t, err)

	_, err = store.Upload(ctx, folder, "ração.pdf", "application/pdf", []byte("12345"), Private)
	require.NoError(t, err)
	_, err = store.Upload(ctx, folder, "b.jpg", "image/jpeg", []byte("1"), Public)
	require.NoError(t, err)
	_, err = store.Upload(ctx, folder+"nested/", "deep.txt", "text/plain", []byte("1"), Private)
	require.NoError(t, err)

	assets, err := store.ListFolderContents(ctx, folder)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	assert.Equal(t, "ração.pdf", assets[0].LogicalName)
	assert.Equal(t, int64(5), assets[0].SizeBytes)
	assert.Equal(t, Private, assets[0].Visibility)
	assert.Equal(t, "docs/", assets[0].FolderID)
	assert.Equal(t, "b.jpg", assets[1].LogicalName)
	assert.Equal(t, Public, assets[1].Visibility)
	assert.Equal(t, "image/jpeg", assets[1].MimeType)
}

func TestPing(t *testing.T) {
	store, fake := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, 1, fake.count("list"))
}

func TestNewS3Store_CredentialErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"access_key_id":"AKIA"}`), 0o600))

	cases := []StoreConfig{
		{Bucket: testBucket},
		{Bucket: testBucket, AccessKey: "a"},
		{Bucket: testBucket, CredentialsFile: filepath.Join(dir, "missing.json")},
		{Bucket: testBucket, CredentialsFile: bad},
		{Bucket: testBucket, CredentialsFile: empty},
	}
	for i, cfg := range cases {
		_, err := NewS3Store(ctx, cfg, logging.Discard())
		require.ErrorIs(t, err, common.ErrAuthConfig, "case %d", i)
	}
}

func TestNewS3Store_ConfiguresClient(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		assert.NotNil(t, lo.Credentials)
		assert.NotNil(t, lo.HTTPClient)
		return aws.Config{Region: lo.Region}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}

	creds := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"access_key_id":"AKIA","secret_access_key":"s3cr3t"}`), 0o600))

	store, err := NewS3Store(context.Background(), StoreConfig{
		Bucket:          testBucket,
		Region:          "eu-central-1",
		BaseEndpoint:    "http://minio:9000",
		CredentialsFile: creds,
	}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, store)

	assert.Equal(t, "eu-central-1", region)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://minio:9000/"+testBucket+"/a/b%20c.png", store.publicURL("a/b c.png"))
}

func TestNewS3Store_AcceptsCustomCABundle(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer ts.Close()

	dir := t.TempDir()
	bundle := filepath.Join(dir, "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, block, 0o600))

	t.Setenv("AWS_CA_BUNDLE", bundle)
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "missing-config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "missing-credentials"))

	store, err := NewS3Store(context.Background(), StoreConfig{
		Bucket:       testBucket,
		Region:       "eu-central-1",
		BaseEndpoint: "http://minio:9000",
		AccessKey:    "AKIA",
		SecretKey:    "s3cr3t",
	}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestNewS3Store_ConfigLoadErrorIsNotAuthConfig(t *testing.T) {
	t.Setenv("AWS_CA_BUNDLE", filepath.Join(t.TempDir(), "missing.pem"))

	_, err := NewS3Store(context.Background(), StoreConfig{
		Bucket:    testBucket,
		Region:    "eu-central-1",
		AccessKey: "AKIA",
		SecretKey: "s3cr3t",
	}, logging.Discard())
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrAuthConfig)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), StoreConfig{AccessKey: "a", SecretKey: "b"}, logging.Discard())
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&types.NoSuchKey{}, common.ErrNotFound},
		{&types.NotFound{}, common.ErrNotFound},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, common.ErrPermissionDenied},
		{&smithy.GenericAPIError{Code: "SlowDown"}, common.ErrRateLimited},
		{&smithy.GenericAPIError{Code: "RequestTimeout"}, common.ErrNetworkTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), common.ErrNetworkTimeout},
		{timeoutErr{}, common.ErrNetworkTimeout},
		{statusErr{429}, common.ErrRateLimited},
		{statusErr{403}, common.ErrPermissionDenied},
	}
	for _, tc := range cases {
		err := classify("op", tc.err)
		assert.ErrorIs(t, err, tc.want, tc.err.Error())
		assert.ErrorIs(t, err, tc.err)
	}

	err := classify("op", errors.New("boom"))
	assert.Nil(t, common.KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "op: "))
	assert.NoError(t, classify("op", nil))
}

func TestIsConditionFailed(t *testing.T) {
	assert.True(t, isConditionFailed(&smithy.GenericAPIError{Code: "PreconditionFailed"}))
	assert.True(t, isConditionFailed(statusErr{412}))
	assert.False(t, isConditionFailed(statusErr{500}))
	assert.False(t, isConditionFailed(errors.New("x")))
}
