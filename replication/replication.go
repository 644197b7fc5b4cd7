// Package replication drives push (upload) and pull (download)
// workflows against a peer: preflight negotiation, per-file
// nonce/signature, session commit, per-object blacklisting, and
// atomic resumable downloads.
package replication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storagemesh/blob"
	"storagemesh/errs"
	"storagemesh/manifest"
	"storagemesh/store"
	"storagemesh/transport"
	"storagemesh/walletiface"
	"storagemesh/wireformat"
)

// DefaultParallelism is the bounded per-file fan-out for push/pull.
const DefaultParallelism = 10

// Controller drives push/pull workflows for one store against one
// peer at a time (peer selection/retry across peers is peerpool's
// job; Controller is handed a single base URL per call).
type Controller struct {
	transport   *transport.Client
	signer      walletiface.Signer
	parallelism int
	blacklist   map[string]map[string]bool // peerAddr -> objectKey -> blacklisted
	blacklistMu sync.Mutex
}

// New returns a Controller using client for transport and signer to
// prove key ownership during uploads.
func New(client *transport.Client, signer walletiface.Signer) *Controller {
	return &Controller{
		transport:   client,
		signer:      signer,
		parallelism: DefaultParallelism,
		blacklist:   make(map[string]map[string]bool),
	}
}

// WithParallelism overrides the default per-file fan-out bound.
func (c *Controller) WithParallelism(n int) *Controller {
	c.parallelism = n
	return c
}

func (c *Controller) isBlacklisted(peerAddr, key string) bool {
	c.blacklistMu.Lock()
	defer c.blacklistMu.Unlock()
	return c.blacklist[peerAddr][key]
}

func (c *Controller) blacklistObject(peerAddr, key string) {
	c.blacklistMu.Lock()
	defer c.blacklistMu.Unlock()
	if c.blacklist[peerAddr] == nil {
		c.blacklist[peerAddr] = make(map[string]bool)
	}
	c.blacklist[peerAddr][key] = true
}

// --- Push (upload) ---

func headURL(baseURL, storeID, hasRootHash string) string {
	u := fmt.Sprintf("%s/%s", baseURL, storeID)
	if hasRootHash != "" {
		u += "?hasRootHash=" + url.QueryEscape(hasRootHash)
	}
	return u
}

func parseStoreHead(res transport.HeadResult) wireformat.StoreHead {
	h := res.Headers
	return wireformat.StoreHead{
		StoreExists:      h.Get(wireformat.HeaderStoreExists) == "true",
		HasRootHash:      h.Get(wireformat.HeaderHasRootHash) == "true",
		Nonce:            h.Get(wireformat.HeaderNonce),
		LastUploadedHash: h.Get(wireformat.HeaderLastUploadedHash),
		GenerationIndex:  atoiOrZero(h.Get(wireformat.HeaderGenerationIndex)),
	}
}

func atoiOrZero(s string) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}

// PushPlan is the decision Push's preflight step reaches; exported so
// callers can log/inspect it before files move.
type PushPlan struct {
	Skip      bool // rootHashExists already; nothing to do
	SessionID string
}

// Push uploads the generation rootHex (and its gen.Files set) to the
// remote store at baseURL: preflight HEAD to check for a conflict or
// an already-synced root, open an upload session, upload every file
// the remote doesn't already have, then commit the session.
func (c *Controller) Push(ctx context.Context, baseURL, storeID, rootHex string, gen manifest.Generation, localGenerationIndex int, blobs *blob.Store) (PushPlan, error) {
	res, err := c.transport.Head(ctx, headURL(baseURL, storeID, rootHex))
	if err != nil {
		return PushPlan{}, err
	}
	head := parseStoreHead(res)

	if head.HasRootHash {
		return PushPlan{Skip: true}, nil
	}

	if err := classifyConflict(head, rootHex, localGenerationIndex); err != nil {
		return PushPlan{}, err
	}

	var sessionResp wireformat.UploadSessionResponse
	sessionURL := fmt.Sprintf("%s/upload/%s?roothash=%s", baseURL, storeID, url.QueryEscape(rootHex))
	if err := c.transport.PostJSON(ctx, sessionURL, nil, &sessionResp); err != nil {
		return PushPlan{}, err
	}

	if err := c.uploadFiles(ctx, baseURL, storeID, sessionResp.SessionID, gen, blobs); err != nil {
		return PushPlan{}, err
	}

	commitURL := fmt.Sprintf("%s/commit/%s/%s", baseURL, storeID, sessionResp.SessionID)
	if err := c.transport.PostJSON(ctx, commitURL, nil, nil); err != nil {
		return PushPlan{}, err
	}

	return PushPlan{SessionID: sessionResp.SessionID}, nil
}

func classifyConflict(head wireformat.StoreHead, rootHex string, localGenerationIndex int) error {
	// The remote reports its generation count; its latest generation
	// sits at index count-1.
	remoteLatest := head.GenerationIndex - 1
	switch {
	case remoteLatest > localGenerationIndex:
		return errs.Wrap(errs.Conflict, errs.ErrRemoteAhead)
	case remoteLatest == localGenerationIndex && head.LastUploadedHash == rootHex:
		return errs.Wrap(errs.Conflict, errs.ErrNoChange)
	case remoteLatest == localGenerationIndex:
		return errs.Wrap(errs.Conflict, errs.ErrDiverged)
	default:
		return nil
	}
}

func (c *Controller) uploadFiles(ctx context.Context, baseURL, storeID, sessionID string, gen manifest.Generation, blobs *blob.Store) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for key, fe := range gen.Files {
		key, fe := key, fe
		g.Go(func() error {
			fileURL := fmt.Sprintf("%s/upload/%s/%s/%s", baseURL, storeID, sessionID, key)
			res, err := c.transport.Head(gctx, fileURL)
			if err != nil {
				return err
			}
			head := wireformat.FileHead{
				Nonce:      res.Headers.Get(wireformat.HeaderNonce),
				FileExists: res.Headers.Get(wireformat.HeaderFileExists) == "true",
			}
			if head.FileExists {
				return nil
			}

			sig, err := c.signer.Sign(wireformat.OwnershipMessage(head.Nonce))
			if err != nil {
				return errs.Wrap(errs.Auth, err)
			}
			pub, err := c.signer.PublicKey()
			if err != nil {
				return errs.Wrap(errs.Auth, err)
			}

			rc, err := blobs.Get(fe.Sha256, 0, 0)
			if err != nil {
				return err
			}
			defer rc.Close()
			size, err := blobs.UncompressedSize(fe.Sha256)
			if err != nil {
				return err
			}

			headers := map[string]string{
				wireformat.HeaderNonce:           head.Nonce,
				wireformat.HeaderPublicKey:       pub,
				wireformat.HeaderKeyOwnershipSig: sig,
			}
			return c.transport.PutStream(gctx, fileURL, rc, size, headers)
		})
	}
	return g.Wait()
}

// --- Pull (download) ---

// PullResult reports which keys were downloaded and which keys were
// blacklisted per peer address because their download or hash check
// failed during the pull.
type PullResult struct {
	Downloaded  []string
	Blacklisted map[string][]string // peerAddr -> keys
}

// Pull finds a peer claiming rootHex among candidateBaseURLs, fetches
// its generation file, and downloads every entry not already present
// locally (or all entries if forceDownload), verifying each blob's
// hash before it is renamed into place. Every file is fetched from the
// one chosen peer; a file that fails is blacklisted for that peer and
// reported in PullResult, and is not retried against another peer.
// Pull does not write <rootHex>.dat or append rootHex to the local
// manifest.
func (c *Controller) Pull(ctx context.Context, candidateBaseURLs []string, storeID, rootHex string, st *store.Store, forceDownload bool) (PullResult, error) {
	var chosenBase string
	for _, base := range candidateBaseURLs {
		res, err := c.transport.Head(ctx, headURL(base, storeID, rootHex))
		if err != nil {
			continue
		}
		if parseStoreHead(res).HasRootHash {
			chosenBase = base
			break
		}
	}
	if chosenBase == "" {
		return PullResult{}, errs.Wrap(errs.NotFound, errs.ErrRootNotFound)
	}

	genURL := fmt.Sprintf("%s/%s/%s.dat", chosenBase, storeID, rootHex)
	rc, err := c.transport.GetWithRetries(ctx, genURL, 3)
	if err != nil {
		return PullResult{}, err
	}
	var gen manifest.Generation
	dec := json.NewDecoder(rc)
	dec.DisallowUnknownFields()
	decodeErr := dec.Decode(&gen)
	rc.Close()
	if decodeErr != nil {
		return PullResult{}, errs.Wrap(errs.Validation, decodeErr)
	}

	result := PullResult{Blacklisted: make(map[string][]string)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	var mu sync.Mutex

	for key, fe := range gen.Files {
		key, fe := key, fe
		if !forceDownload && st.Blobs.Has(fe.Sha256) {
			continue
		}
		if c.isBlacklisted(chosenBase, key) {
			continue
		}
		g.Go(func() error {
			if err := c.downloadOne(gctx, chosenBase, storeID, key, fe, st); err != nil {
				c.blacklistObject(chosenBase, key)
				mu.Lock()
				result.Blacklisted[chosenBase] = append(result.Blacklisted[chosenBase], key)
				mu.Unlock()
				return nil // one bad object does not fail the whole pull; it is reported, not retried
			}
			mu.Lock()
			result.Downloaded = append(result.Downloaded, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// downloadOne streams key's content from baseURL into a temp file,
// verifies its hash against fe.Sha256 before it ever reaches the blob
// store, then re-compresses it in through the normal Put path: a
// hash-mismatched download must never appear at its final path.
func (c *Controller) downloadOne(ctx context.Context, baseURL, storeID, key string, fe manifest.FileEntry, st *store.Store) error {
	fileURL := fmt.Sprintf("%s/%s/%s", baseURL, storeID, key)
	rc, err := c.transport.GetWithRetries(ctx, fileURL, 3)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := st.TmpFile("download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), rc); err != nil {
		tmp.Close()
		return errs.Wrap(errs.Resource, err)
	}

	gotHex := hex.EncodeToString(hasher.Sum(nil))
	if gotHex != fe.Sha256 {
		tmp.Close()
		return errs.Wrap(errs.Integrity, errs.ErrBlobHashMismatch)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return errs.Wrap(errs.Resource, err)
	}
	_, err = st.Blobs.Put(tmp)
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	return errs.Wrap(errs.Resource, closeErr)
}

// NewSessionID returns a fresh session identifier for push uploads.
func NewSessionID() string {
	return uuid.NewString()
}
