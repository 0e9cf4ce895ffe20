package storage

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	acl         types.ObjectCannedACL
	modified    time.Time
}

// fakeS3 is an in-memory bucket. The *Err hooks inject failures per call.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*fakeObject
	calls   map[string]int

	headHook   func(ctx context.Context, key string) error
	putErr     func(key string) error
	aclErr     func(key string, call int) error
	deleteErr  func(key string) error
	copyErr    func(key string) error
	presignErr error
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string]*fakeObject{}, calls: map[string]int{}}
}

func (f *fakeS3) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headHook != nil {
		if err := f.headHook(ctx, aws.ToString(in.Key)); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["head"]++
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	meta := map[string]string{}
	for k, v := range obj.metadata {
		meta[k] = v
	}
	return &s3.HeadObjectOutput{
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      meta,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["put"]++
	if f.putErr != nil {
		if err := f.putErr(key); err != nil {
			return nil, err
		}
	}
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	f.objects[key] = &fakeObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
		acl:         types.ObjectCannedACLPrivate,
		modified:    time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutObjectAcl(_ context.Context, in *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	key := aws.ToString(in.Key)

	f.mu.Lock()
	f.calls["acl"]++
	call := f.calls["acl"]
	hook := f.aclErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(key, call); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	obj.acl = in.ACL
	return &s3.PutObjectAclOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		if err := f.deleteErr(key); err != nil {
			return nil, err
		}
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src := strings.TrimPrefix(aws.ToString(in.CopySource), f.bucket+"/")
	src, err := url.PathUnescape(src)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["copy"]++
	if f.copyErr != nil {
		if err := f.copyErr(src); err != nil {
			return nil, err
		}
	}
	obj, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	cp := *obj
	if in.ACL != "" {
		cp.acl = in.ACL
	} else {
		cp.acl = types.ObjectCannedACLPrivate
	}
	f.objects[aws.ToString(in.Key)] = &cp
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k].data))),
		})
	}
	return out, nil
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &v4.PresignedHTTPRequest{
		URL:    "http://127.0.0.1:9000/" + f.bucket + "/" + escapeKey(aws.ToString(in.Key)) + "?X-Amz-Signature=deadbeef",
		Method: "GET",
	}, nil
}
