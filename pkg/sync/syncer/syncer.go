// Package syncer drives a sync session: it connects to the server, runs the
// initial reconciliation, and then uploads local changes as they settle.
package syncer

import (
	"context"
	"path/filepath"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/fswatch"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/sync/client"
	"github.com/sidkik/boxsync/pkg/sync/clock"
	"github.com/sidkik/boxsync/pkg/sync/pool"
	"github.com/sidkik/boxsync/pkg/sync/transfer"
)

// DrainTimeout is how long to wait for transfers before logging that
// they're still running.
const DrainTimeout = 30 * time.Second

// Config contains the settings for a sync session.
type Config struct {
	Server string
	User   string

	// Root is the absolute path of the local directory to sync.
	Root string

	Workers      int
	ClockSamples int
	TieBreak     sync.TieBreak
}

// Report summarizes a sync round.
type Report struct {
	Plan       sync.Plan
	Uploaded   int
	Downloaded int

	// Failed contains the paths whose transfers failed, and why.
	Failed map[string]error

	// Pending contains the paths that couldn't be decided this round.
	Pending []string
}

// Syncer keeps a local directory in sync with the user's container.
type Syncer struct {
	cfg    Config
	client client.Client
	fs     afero.Fs
	clock  clockwork.Clock
	pool   *pool.Pool
	hashes *sync.HashCache
	log    log.FieldLogger

	lock   goSync.Mutex
	token  sync.SessionToken
	offset clock.Offset

	// loginLock keeps concurrent transfers from each starting a session
	// when the current one expires.
	loginLock goSync.Mutex

	// synced maps each path to the hash of its contents after it was last
	// transferred. Local changes that match it don't need to be uploaded.
	synced map[string]string
}

// Mocked out for unit testing.
var newClient = func(address string) (client.Client, error) {
	return client.New(address)
}

// Connect connects to the server, checks that its version is compatible,
// estimates the clock offset, and logs in.
func Connect(cfg Config, logger log.FieldLogger) (*Syncer, error) {
	c, err := newClient(cfg.Server)
	if err != nil {
		return nil, errors.WithContext(err, "connect")
	}

	if err := client.CheckVersion(c); err != nil {
		c.Close()
		return nil, err
	}

	s, err := New(c, cfg, afero.NewOsFs(), clockwork.NewRealClock(), logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	if err := s.SyncClock(); err != nil {
		s.Close()
		return nil, errors.WithContext(err, "sync clock")
	}

	if err := s.Login(); err != nil {
		s.Close()
		return nil, errors.WithContext(err, "login")
	}
	return s, nil
}

// New creates a Syncer that uses an existing connection.
func New(c client.Client, cfg Config, fs afero.Fs, clk clockwork.Clock, logger log.FieldLogger) (*Syncer, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.ClockSamples <= 0 {
		cfg.ClockSamples = 10
	}

	hashes, err := sync.NewHashCache(4096)
	if err != nil {
		return nil, errors.WithContext(err, "create hash cache")
	}

	return &Syncer{
		cfg:    cfg,
		client: c,
		fs:     fs,
		clock:  clk,
		pool:   pool.New(cfg.Workers, clk, logger),
		hashes: hashes,
		log:    logger,
		synced: map[string]string{},
	}, nil
}

// SyncClock estimates the offset between the local clock and the server's
// clock.
func (s *Syncer) SyncClock() error {
	offset, err := clock.ComputeOffset(s.client, s.clock, s.cfg.ClockSamples)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.offset = offset
	s.lock.Unlock()

	s.log.WithFields(log.Fields{
		"offset": offset.Duration().String(),
		"error":  (time.Duration(offset.ErrorMillis) * time.Millisecond).String(),
	}).Info("Estimated clock offset")
	return nil
}

// Offset returns the most recent clock offset estimate.
func (s *Syncer) Offset() clock.Offset {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.offset
}

// Login starts a new session on the server.
func (s *Syncer) Login() error {
	token, err := s.client.Login(s.cfg.User)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.token = token
	s.lock.Unlock()
	return nil
}

// relogin starts a new session to replace `stale`. If another caller already
// replaced it, the current session is kept.
func (s *Syncer) relogin(stale sync.SessionToken) error {
	s.loginLock.Lock()
	defer s.loginLock.Unlock()

	if s.getToken() != stale {
		return nil
	}
	return s.Login()
}

func (s *Syncer) getToken() sync.SessionToken {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.token
}

// Plan reconciles the local directory with the user's container. If the
// session has expired, Plan logs in again and retries once.
func (s *Syncer) Plan() (sync.Plan, error) {
	engine := s.engine()
	plan, err := engine.Plan()
	if errors.RootCause(err) != errors.ErrSessionInvalid {
		return plan, err
	}

	s.log.Info("Session expired. Logging in again")
	if err := s.relogin(engine.Token); err != nil {
		return sync.Plan{}, errors.WithContext(err, "login")
	}
	return s.engine().Plan()
}

func (s *Syncer) engine() sync.Engine {
	return sync.Engine{
		Remote: s.client,
		Token:  s.getToken(),
		Fs:     s.fs,
		Root:   s.cfg.Root,
		// The offset is the local time minus the server time, so subtracting
		// it converts local times to the server's clock.
		OffsetMillis: -s.Offset().Millis,
		TieBreak:     s.cfg.TieBreak,
		Hashes:       s.hashes,
		Log:          s.log,
	}
}

// SyncOnce computes a plan, runs every transfer in it, and waits for them
// to finish.
func (s *Syncer) SyncOnce(ctx context.Context) (Report, error) {
	plan, err := s.Plan()
	if err != nil {
		return Report{}, errors.WithContext(err, "plan")
	}

	uploads, downloads := plan.Transfers()
	for _, record := range uploads {
		if err := s.pool.Submit(s.uploadTask(record)); err != nil {
			return Report{}, errors.WithContext(err, "submit upload")
		}
	}
	for _, record := range downloads {
		if err := s.pool.Submit(s.downloadTask(record)); err != nil {
			return Report{}, errors.WithContext(err, "submit download")
		}
	}

	results, err := s.pool.DrainAndWait(ctx, DrainTimeout)
	if err != nil {
		return Report{}, errors.WithContext(err, "wait for transfers")
	}

	report := Report{Plan: plan, Failed: map[string]error{}, Pending: plan.Pending}
	for _, res := range results {
		task, ok := res.Task.(*syncTask)
		if !ok {
			continue
		}

		if res.Err != nil {
			report.Failed[task.path] = res.Err
			continue
		}

		if task.upload {
			report.Uploaded++
		} else {
			report.Downloaded++
		}
	}

	s.log.WithFields(log.Fields{
		"uploaded":   report.Uploaded,
		"downloaded": report.Downloaded,
		"failed":     len(report.Failed),
		"pending":    len(report.Pending),
	}).Info("Sync round finished")
	return report, nil
}

// Resync waits for outstanding transfers, such as uploads from the file
// watcher, and then runs another sync round.
func (s *Syncer) Resync(ctx context.Context) (Report, error) {
	if _, err := s.pool.DrainAndWait(ctx, DrainTimeout); err != nil {
		return Report{}, errors.WithContext(err, "wait for transfers")
	}
	return s.SyncOnce(ctx)
}

// Watch uploads local changes until the context is cancelled.
func (s *Syncer) Watch(ctx context.Context) error {
	w, err := fswatch.New(s.cfg.Root, s.submitUpload, s.clock, s.log)
	if err != nil {
		return errors.WithContext(err, "watch")
	}
	defer w.Close()

	return w.Run(ctx)
}

// Resize changes the number of concurrent transfers. It takes effect after
// the current round finishes.
func (s *Syncer) Resize(workers int) {
	s.pool.Resize(workers)
}

// Workers returns the number of concurrent transfers for the next round.
func (s *Syncer) Workers() int {
	return s.pool.Size()
}

// ListLocal returns the local files. If `withHashes` is set, the files'
// hashes and modification times are included.
func (s *Syncer) ListLocal(withHashes bool) ([]sync.FileRecord, error) {
	inv, err := sync.Scan(s.fs, s.cfg.Root)
	if err != nil {
		return nil, err
	}

	var records []sync.FileRecord
	for _, path := range inv.Paths() {
		if !withHashes {
			records = append(records, inv[path])
			continue
		}

		record, err := sync.Metadata(s.fs, s.cfg.Root, path, s.hashes)
		if err != nil {
			s.log.WithError(err).WithField("path", path).Debug("Failed to read local metadata")
			record = inv[path]
		}
		records = append(records, record)
	}
	return records, nil
}

// ListRemote returns the files in the user's container. If `withHashes` is
// set, the files' hashes and modification times are included.
func (s *Syncer) ListRemote(withHashes bool) ([]sync.FileRecord, error) {
	token := s.getToken()
	records, err := s.client.ListFiles(token)
	if err != nil || !withHashes || len(records) == 0 {
		return records, err
	}
	return s.client.FetchMetadata(token, sync.NewInventory(records).Paths())
}

// Close waits for running transfers, then logs out and disconnects.
func (s *Syncer) Close() error {
	s.pool.Close()

	if token := s.getToken(); token.LoggedIn() {
		if err := s.client.Logout(token); err != nil {
			s.log.WithError(err).Warn("Failed to log out")
		}
	}
	return s.client.Close()
}

// submitUpload is called by the file watcher once a local file settles.
// Files that haven't changed since they were last transferred are skipped,
// so that downloads don't bounce back to the server.
func (s *Syncer) submitUpload(record sync.FileRecord) error {
	hash, err := s.localHash(record.RelativePath)
	if err != nil {
		// The file is gone or unreadable, so there's nothing to upload.
		s.log.WithError(err).WithField("path", record.RelativePath).Debug("Skipping upload")
		return nil
	}

	s.lock.Lock()
	unchanged := s.synced[record.RelativePath] == hash
	s.lock.Unlock()
	if unchanged {
		return nil
	}
	return s.pool.Submit(s.uploadTask(record))
}

func (s *Syncer) localHash(relPath string) (string, error) {
	path := filepath.Join(s.cfg.Root, filepath.FromSlash(relPath))
	fi, err := s.fs.Stat(path)
	if err != nil {
		return "", err
	}
	return s.hashes.Hash(s.fs, path, fi)
}

func (s *Syncer) markSynced(relPath string) {
	hash, err := s.localHash(relPath)
	if err != nil {
		s.log.WithError(err).WithField("path", relPath).Debug("Failed to hash transferred file")
		return
	}

	s.lock.Lock()
	s.synced[relPath] = hash
	s.lock.Unlock()
}

func (s *Syncer) transfer(record sync.FileRecord, token sync.SessionToken) transfer.Transfer {
	return transfer.Transfer{
		Remote: s.client,
		Token:  token,
		Fs:     s.fs,
		Root:   s.cfg.Root,
		Record: record,
		Log:    s.log,
	}
}

func (s *Syncer) uploadTask(record sync.FileRecord) *syncTask {
	return &syncTask{path: record.RelativePath, record: record, upload: true, syncer: s}
}

func (s *Syncer) downloadTask(record sync.FileRecord) *syncTask {
	return &syncTask{path: record.RelativePath, record: record, syncer: s}
}

// syncTask transfers a file with the current session, and records the
// file's hash once it's been transferred. Tasks can sit in the queue for a
// while, so the session token is read when the task runs.
type syncTask struct {
	path   string
	record sync.FileRecord
	upload bool
	syncer *Syncer
}

func (t *syncTask) Run() error {
	token := t.syncer.getToken()
	err := t.transfer(token)
	if errors.RootCause(err) == errors.ErrSessionInvalid {
		t.syncer.log.WithField("path", t.path).Info("Session expired. Logging in again")
		if err := t.syncer.relogin(token); err != nil {
			return errors.WithContext(err, "login")
		}
		err = t.transfer(t.syncer.getToken())
	}
	if err != nil {
		return err
	}

	t.syncer.markSynced(t.path)
	return nil
}

func (t *syncTask) transfer(token sync.SessionToken) error {
	tr := t.syncer.transfer(t.record, token)
	if t.upload {
		return transfer.Upload(tr).Run()
	}
	return transfer.Download(tr).Run()
}

func (t *syncTask) String() string {
	if t.upload {
		return "upload " + t.path
	}
	return "download " + t.path
}
