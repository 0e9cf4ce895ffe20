package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/cryptox"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/netx"
)

const (
	metaLogicalName = "logical-name"
	metaVisibility  = "visibility"

	folderContentType = "application/x-directory"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner signs GET requests for private objects.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// StoreConfig holds what NewS3Store needs to reach the bucket.
type StoreConfig struct {
	Bucket          string
	Region          string
	BaseEndpoint    string
	AccessKey       string
	SecretKey       string
	CredentialsFile string
	PublicBaseURL   string
	PresignExpiry   time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps assets in one bucket. Folders are key prefixes ending in "/"
// with a zero-byte marker object, so a folder id is derived from its
// parent id and name and the same (name, parent) always maps to one folder.
type S3Store struct {
	api           S3API
	presigner     Presigner
	bucket        string
	publicBaseURL string
	presignExpiry time.Duration
	log           logging.Logger

	folders singleflight.Group
	newID   func() string
}

type credentialsFile struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

func loadCredentials(cfg StoreConfig) (string, string, error) {
	ak, sk := cfg.AccessKey, cfg.SecretKey
	if cfg.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return "", "", common.NewOpError("load credentials", common.ErrAuthConfig, err)
		}
		var cf credentialsFile
		if err := json.Unmarshal(raw, &cf); err != nil {
			return "", "", common.NewOpError("load credentials", common.ErrAuthConfig, fmt.Errorf("parse %s: %w", cfg.CredentialsFile, err))
		}
		ak, sk = cf.AccessKeyID, cf.SecretAccessKey
	}
	if strings.TrimSpace(ak) == "" || strings.TrimSpace(sk) == "" {
		return "", "", common.NewOpError("load credentials", common.ErrAuthConfig, fmt.Errorf("access key and secret key are required"))
	}
	return ak, sk, nil
}

// NewS3Store builds an S3 client from cfg. Malformed credential material
// yields common.ErrAuthConfig.
func NewS3Store(ctx context.Context, cfg StoreConfig, log logging.Logger) (*S3Store, error) {
	ak, sk, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, common.NewOpError("new s3 store", common.ErrInvalidInput, fmt.Errorf("bucket is required"))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ak, sk, "")),
		config.WithHTTPClient(netx.NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	if cfg.PublicBaseURL == "" && cfg.BaseEndpoint != "" {
		cfg.PublicBaseURL = strings.TrimRight(cfg.BaseEndpoint, "/") + "/" + cfg.Bucket
	}
	return NewS3StoreWithAPI(client, s3.NewPresignClient(client), cfg, log), nil
}

// NewS3StoreWithAPI builds a store over an existing client.
func NewS3StoreWithAPI(api S3API, presigner Presigner, cfg StoreConfig, log logging.Logger) *S3Store {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &S3Store{
		api:           api,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignExpiry: expiry,
		log:           log.With("module", "storage"),
		newID:         uuid.NewString,
	}
}

// FindOrCreateFolder returns the id of folder name under parentID ("" for
// the bucket root), creating its marker if missing. Concurrent calls for
// the same folder share one request, and the marker is written with
// If-None-Match so other processes cannot create a second one.
func (s *S3Store) FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", common.NewOpError("find or create folder", common.ErrInvalidInput, fmt.Errorf("bad folder name %q", name))
	}
	if parentID != "" && !strings.HasSuffix(parentID, "/") {
		return "", common.NewOpError("find or create folder", common.ErrInvalidInput, fmt.Errorf("bad parent id %q", parentID))
	}
	key := parentID + name + "/"

	_, err, _ := s.folders.Do(key, func() (any, error) {
		// The flight is shared, so one caller's cancellation must not fail the others.
		ctx := context.WithoutCancel(ctx)
		_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return nil, nil
		}
		if kindOf(err) != common.ErrNotFound {
			return nil, classify("head folder", err)
		}

		_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
			ContentType:   aws.String(folderContentType),
			IfNoneMatch:   aws.String("*"),
		})
		if err != nil && !isConditionFailed(err) {
			return nil, classify("create folder", err)
		}
		if err == nil {
			s.log.Info(ctx, "folder created", "folder", key)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Upload stores data as a new object in folderID. A public upload is only
// reported as successful once its ACL grant succeeded; if the grant fails
// the object is deleted again before the error is returned.
func (s *S3Store) Upload(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis Visibility) (UploadResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return UploadResult{}, common.NewOpError("upload", common.ErrInvalidInput, fmt.Errorf("empty file name"))
	}
	if _, err := ParseVisibility(string(vis)); err != nil {
		return UploadResult{}, err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	key := folderID + s.newID() + "_" + sanitizeObjectName(fileName)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ContentType:    aws.String(mimeType),
		ChecksumSHA256: aws.String(cryptox.SHA256Base64(data)),
		Metadata: map[string]string{
			metaLogicalName: url.QueryEscape(fileName),
			metaVisibility:  string(vis),
		},
	})
	if err != nil {
		return UploadResult{}, classify("upload", err)
	}

	if vis == Public {
		_, err := s.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			ACL:    types.ObjectCannedACLPublicRead,
		})
		if err != nil {
			kind := kindOf(err)
			if kind != common.ErrRateLimited && kind != common.ErrNetworkTimeout {
				kind = common.ErrPermissionDenied
			}
			s.rollback(ctx, key, err)
			return UploadResult{}, common.NewOpError("grant public read", kind, err)
		}
		return UploadResult{ObjectID: key, URL: s.publicURL(key)}, nil
	}

	signed, err := s.presignGet(ctx, key)
	if err != nil {
		s.rollback(ctx, key, err)
		return UploadResult{}, err
	}
	return UploadResult{ObjectID: key, URL: signed}, nil
}

// rollback removes an object whose upload could not be completed. Its own
// failure is logged; the caller reports the original cause.
func (s *S3Store) rollback(ctx context.Context, key string, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && kindOf(err) != common.ErrNotFound {
		s.log.Error(ctx, "rollback delete failed, object orphaned", "key", key, "cause", cause, "error", err)
		return
	}
	s.log.Warn(ctx, "upload rolled back", "key", key, "cause", cause)
}

func (s *S3Store) presignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", classify("presign get", err)
	}
	return req.URL, nil
}

// Delete removes the object given by id or URL. A missing object is not an
// error.
func (s *S3Store) Delete(ctx context.Context, objectIDOrURL string) error {
	key, err := s.objectKey(objectIDOrURL)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if kindOf(err) == common.ErrNotFound {
			return nil
		}
		return classify("delete", err)
	}
	return nil
}

// Move relocates an object to toFolderID and returns its new id. S3 has no
// rename: the object is copied, then the source is deleted. When the source
// cannot be deleted the copy is removed so exactly one version remains.
func (s *S3Store) Move(ctx context.Context, objectID, toFolderID, fromFolderID string) (string, error) {
	key, err := s.objectKey(objectID)
	if err != nil {
		return "", err
	}
	if fromFolderID != "" && path.Dir(key)+"/" != fromFolderID {
		return "", common.NewOpError("move", common.ErrNotFound, fmt.Errorf("%s is not in %s", key, fromFolderID))
	}
	newKey := toFolderID + path.Base(key)
	if newKey == key {
		return key, nil
	}

	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classify("move", err)
	}

	in := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(s.bucket + "/" + escapeKey(key)),
	}
	if Visibility(head.Metadata[metaVisibility]) == Public {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.api.CopyObject(ctx, in); err != nil {
		return "", classify("move copy", err)
	}

	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		s.rollback(ctx, newKey, err)
		return "", classify("move delete source", err)
	}
	return newKey, nil
}

// ListFolderContents returns the objects directly inside folderID.
func (s *S3Store) ListFolderContents(ctx context.Context, folderID string) ([]Asset, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(folderID),
		Delimiter: aws.String("/"),
	})

	var out []Asset
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == folderID || strings.HasSuffix(key, "/") {
				continue
			}
			head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				if kindOf(err) == common.ErrNotFound {
					continue
				}
				return nil, classify("list head", err)
			}
			out = append(out, s.assetFrom(folderID, key, head))
		}
	}
	return out, nil
}

// ListFolders returns the ids of the folders directly under parentID.
func (s *S3Store) ListFolders(ctx context.Context, parentID string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(parentID),
		Delimiter: aws.String("/"),
	})

	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list folders", err)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, aws.ToString(cp.Prefix))
		}
	}
	return out, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	return classify("ping", err)
}

func (s *S3Store) assetFrom(folderID, key string, head *s3.HeadObjectOutput) Asset {
	name := path.Base(key)
	if raw, ok := head.Metadata[metaLogicalName]; ok {
		if v, err := url.QueryUnescape(raw); err == nil {
			name = v
		}
	}
	vis := Visibility(head.Metadata[metaVisibility])
	if vis != Public {
		vis = Private
	}
	return Asset{
		LogicalName:  name,
		ObjectID:     key,
		FolderID:     folderID,
		MimeType:     aws.ToString(head.ContentType),
		SizeBytes:    aws.ToInt64(head.ContentLength),
		Visibility:   vis,
		LastModified: aws.ToTime(head.LastModified),
	}
}

// objectKey accepts an object id or any URL this store produced (public or
// presigned, path-style or under PublicBaseURL) and returns the key.
func (s *S3Store) objectKey(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", common.NewOpError("object key", common.ErrInvalidInput, fmt.Errorf("empty object reference"))
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return strings.TrimPrefix(ref, "/"), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", common.NewOpError("object key", common.ErrInvalidInput, err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	underPublicBase := false
	if s.publicBaseURL != "" {
		if base, err := url.Parse(s.publicBaseURL); err == nil && base.Host == u.Host {
			switch bp := strings.Trim(base.Path, "/"); {
			case bp == "":
				underPublicBase = true
			case strings.HasPrefix(key, bp+"/"):
				underPublicBase = true
				key = strings.TrimPrefix(key, bp+"/")
			}
		}
	}
	// Path-style endpoint URLs carry the bucket as the first segment.
	if !underPublicBase {
		key = strings.TrimPrefix(key, s.bucket+"/")
	}
	if key == "" {
		return "", common.NewOpError("object key", common.ErrInvalidInput, fmt.Errorf("no object key in %q", ref))
	}
	return key, nil
}

func (s *S3Store) publicURL(key string) string {
	return s.publicBaseURL + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func sanitizeObjectName(name string) string {
	name = strings.TrimSpace(name)
	return strings.NewReplacer("/", "-", `\`, "-").Replace(name)
}
