package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/samber/lo"
)

const lfsMediaType = "application/vnd.git-lfs+json"

// Operation adds one file to a commit. Exactly one of Content or LocalPath is
// set: Content is sent inline, LocalPath is uploaded through Git LFS.
type Operation struct {
	PathInRepo string
	Content    []byte
	LocalPath  string

	oid  string
	size int64
}

// AddBytes creates an inline operation
func AddBytes(pathInRepo string, content []byte) Operation {
	return Operation{PathInRepo: pathInRepo, Content: content}
}

// AddFile creates an operation uploading a local file through LFS
func AddFile(pathInRepo, localPath string) Operation {
	return Operation{PathInRepo: pathInRepo, LocalPath: localPath}
}

func (op Operation) isLFS() bool {
	return op.LocalPath != ""
}

// CommitInfo is the Hub's answer to a commit
type CommitInfo struct {
	CommitURL string `json:"commitUrl"`
	CommitOID string `json:"commitOid"`
}

// Commit uploads ops as a single commit on the main branch of repoID. Large
// files go to LFS storage first; the commit itself only references them, so
// it either lands with every file or not at all.
func (c *Client) Commit(ctx context.Context, repoID, message string, ops []Operation) (*CommitInfo, error) {
	if len(ops) == 0 {
		return nil, errors.New("commit has no files")
	}
	if dups := lo.FindDuplicates(lo.Map(ops, func(op Operation, _ int) string { return op.PathInRepo })); len(dups) > 0 {
		return nil, fmt.Errorf("commit lists paths more than once: %v", dups)
	}

	ops = append([]Operation(nil), ops...)
	var lfs []*Operation
	for i := range ops {
		if !ops[i].isLFS() {
			continue
		}
		oid, size, err := ComputeSHA256(ops[i].LocalPath)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", ops[i].LocalPath, err)
		}
		ops[i].oid, ops[i].size = oid, size
		lfs = append(lfs, &ops[i])
	}

	if len(lfs) > 0 {
		if err := c.uploadLFS(ctx, repoID, lfs); err != nil {
			return nil, err
		}
	}

	body, err := commitPayload(message, ops)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost,
		c.url("/api/models/%s/commit/%s", escapePath(repoID), DefaultRevision), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("committing to %s: %w", repoID, err)
	}

	info := &CommitInfo{}
	if err := decodeJSON(resp, info); err != nil {
		return nil, fmt.Errorf("committing to %s: %w", repoID, err)
	}
	return info, nil
}

type ndjsonLine struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func commitPayload(message string, ops []Operation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	lines := []ndjsonLine{{
		Key:   "header",
		Value: map[string]string{"summary": message, "description": ""},
	}}
	for _, op := range ops {
		if op.isLFS() {
			lines = append(lines, ndjsonLine{Key: "lfsFile", Value: map[string]interface{}{
				"path": op.PathInRepo,
				"algo": "sha256",
				"oid":  op.oid,
				"size": op.size,
			}})
			continue
		}
		lines = append(lines, ndjsonLine{Key: "file", Value: map[string]string{
			"path":     op.PathInRepo,
			"content":  base64.StdEncoding.EncodeToString(op.Content),
			"encoding": "base64",
		}})
	}

	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to encode commit: %w", err)
		}
	}
	return buf.Bytes(), nil
}

type lfsObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsBatchResponse struct {
	Transfer string `json:"transfer"`
	Objects  []struct {
		lfsObject
		Actions map[string]lfsAction `json:"actions"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"objects"`
}

// uploadLFS negotiates storage for ops and uploads the objects the Hub does
// not have yet
func (c *Client) uploadLFS(ctx context.Context, repoID string, ops []*Operation) error {
	byOID := map[string]*Operation{}
	objects := make([]lfsObject, 0, len(ops))
	for _, op := range ops {
		if _, seen := byOID[op.oid]; seen {
			continue
		}
		byOID[op.oid] = op
		objects = append(objects, lfsObject{OID: op.oid, Size: op.size})
	}

	payload := map[string]interface{}{
		"operation": "upload",
		"transfers": []string{"basic", "multipart"},
		"objects":   objects,
		"hash_algo": "sha256",
		"ref":       map[string]string{"name": DefaultRevision},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode LFS batch: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost,
		c.url("/%s.git/info/lfs/objects/batch", escapePath(repoID)), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", lfsMediaType)
	req.Header.Set("Content-Type", lfsMediaType)

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("negotiating LFS upload: %w", err)
	}
	var batch lfsBatchResponse
	if err := decodeJSON(resp, &batch); err != nil {
		return fmt.Errorf("negotiating LFS upload: %w", err)
	}

	for _, obj := range batch.Objects {
		op, ok := byOID[obj.OID]
		if !ok {
			return fmt.Errorf("LFS batch returned unknown object %s", obj.OID)
		}
		if obj.Error != nil {
			return fmt.Errorf("LFS rejected %s: %d %s", op.PathInRepo, obj.Error.Code, obj.Error.Message)
		}

		upload, ok := obj.Actions["upload"]
		if !ok {
			c.log.Debugf("%s already stored, skipping upload", op.PathInRepo)
			continue
		}

		c.log.Infof("uploading %s", op.PathInRepo)
		if batch.Transfer == "multipart" {
			err = c.uploadMultipart(ctx, op, upload)
		} else {
			err = c.uploadBasic(ctx, op, upload)
		}
		if err != nil {
			return fmt.Errorf("uploading %s: %w", op.PathInRepo, err)
		}

		if verify, ok := obj.Actions["verify"]; ok {
			if err := c.lfsPost(ctx, verify, lfsObject{OID: op.oid, Size: op.size}); err != nil {
				return fmt.Errorf("verifying %s: %w", op.PathInRepo, err)
			}
		}
	}

	return nil
}

func (c *Client) uploadBasic(ctx context.Context, op *Operation, action lfsAction) error {
	f, err := os.Open(op.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.put(ctx, action.Href, action.Header, f, op.size, nil)
}

// uploadMultipart sends the file in chunk_size parts to the numbered URLs of
// the action header, then posts the ETags back to the action href.
func (c *Client) uploadMultipart(ctx context.Context, op *Operation, action lfsAction) error {
	chunkSize, err := strconv.ParseInt(action.Header["chunk_size"], 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("invalid multipart chunk size %q", action.Header["chunk_size"])
	}

	var numbers []int
	for k := range action.Header {
		if n, err := strconv.Atoi(k); err == nil {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	f, err := os.Open(op.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	type part struct {
		PartNumber int    `json:"partNumber"`
		ETag       string `json:"etag"`
	}
	parts := make([]part, 0, len(numbers))

	for i, n := range numbers {
		offset := int64(i) * chunkSize
		size := chunkSize
		if remaining := op.size - offset; remaining < size {
			size = remaining
		}
		if size <= 0 {
			break
		}

		var etag string
		section := io.NewSectionReader(f, offset, size)
		if err := c.put(ctx, action.Header[strconv.Itoa(n)], nil, section, size, &etag); err != nil {
			return fmt.Errorf("part %d: %w", n, err)
		}
		parts = append(parts, part{PartNumber: i + 1, ETag: etag})
	}

	return c.lfsPost(ctx, lfsAction{Href: action.Href}, map[string]interface{}{
		"oid":   op.oid,
		"parts": parts,
	})
}

// put uploads body to a storage URL. The Hub token is not sent there; only
// the headers the batch response asked for are.
func (c *Client) put(ctx context.Context, href string, header map[string]string, body io.Reader, size int64, etag *string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, href, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	for k, v := range header {
		if k == "chunk_size" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if etag != nil {
		*etag = resp.Header.Get("ETag")
	}
	return nil
}

func (c *Client) lfsPost(ctx context.Context, action lfsAction, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, action.Href, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", lfsMediaType)
	req.Header.Set("Content-Type", lfsMediaType)
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ComputeSHA256 returns the hex SHA-256 of a file and its size
func ComputeSHA256(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, file)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hash.Sum(nil)), n, nil
}
