// internal/services/evidence_service.go
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/oracle"
)

const s3Scheme = "s3://"

// EvidenceService turns stored evidence references into URLs the oracle can fetch.
// Uploads happen elsewhere; references are either http(s) URLs, passed through, or
// s3://bucket/key objects in the evidence bucket, presigned for a short time.
type EvidenceService struct {
	s3Client *s3.S3
	bucket   string
	ttl      time.Duration
}

func NewEvidenceService(cfg config.AWSConfig) (*EvidenceService, error) {
	svc := &EvidenceService{
		bucket: cfg.EvidenceBucket,
		ttl:    time.Duration(cfg.PresignTTL) * time.Minute,
	}
	if cfg.AccessKeyID == "" {
		// No S3 for local development; s3:// references cannot be resolved.
		return svc, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	svc.s3Client = s3.New(sess)
	return svc, nil
}

// IsReference reports whether ref is a storage reference or an http(s) URL.
func IsReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	return strings.HasPrefix(ref, s3Scheme) || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}

func (s *EvidenceService) Resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, s3Scheme) {
		return ref, nil
	}
	if s.s3Client == nil {
		return "", fmt.Errorf("cannot resolve %s: evidence storage not configured", ref)
	}

	bucket, key := s.splitS3Ref(ref)
	if key == "" {
		return "", fmt.Errorf("invalid evidence reference %s", ref)
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(s.ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", ref, err)
	}
	return url, nil
}

// ResolveEvidence resolves every reference in e.
func (s *EvidenceService) ResolveEvidence(e oracle.Evidence) (oracle.Evidence, error) {
	out := e
	var err error
	for _, field := range []*string{&out.CharterDocumentURL, &out.FinancialStatementURL, &out.SocialProofURL} {
		if *field == "" {
			continue
		}
		if *field, err = s.Resolve(*field); err != nil {
			return oracle.Evidence{}, err
		}
	}
	out.PhotoURLs = make([]string, len(e.PhotoURLs))
	for i, photo := range e.PhotoURLs {
		if out.PhotoURLs[i], err = s.Resolve(photo); err != nil {
			return oracle.Evidence{}, err
		}
	}
	return out, nil
}

// splitS3Ref parses s3://bucket/key; a bare s3://key uses the evidence bucket.
func (s *EvidenceService) splitS3Ref(ref string) (bucket, key string) {
	rest := strings.TrimPrefix(ref, s3Scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return s.bucket, parts[0]
	}
	return parts[0], parts[1]
}
