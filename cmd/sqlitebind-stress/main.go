package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sqlitebind/sqlitebind"
)

// Context key for worker ID
type contextKey string

const workerIDKey contextKey = "worker_id"

// WorkerLogger sends every gorm statement to zap, tagged with the worker.
type WorkerLogger struct {
	log *zap.Logger
}

func (l *WorkerLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *WorkerLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Infof(msg, data...)
}

func (l *WorkerLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Warnf(msg, data...)
}

func (l *WorkerLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.log.Sugar().Errorf(msg, data...)
}

func (l *WorkerLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	sql, rows := fc()
	workerID := "main"
	if id := ctx.Value(workerIDKey); id != nil {
		workerID = fmt.Sprintf("worker-%v", id)
	}
	fields := []zap.Field{
		zap.String("worker", workerID),
		zap.Duration("elapsed", time.Since(begin)),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		l.log.Warn("statement failed", append(fields, zap.Error(err))...)
		return
	}
	l.log.Debug("statement", fields...)
}

// Model for stress testing
type Record struct {
	ID        uint   `gorm:"primarykey"`
	CreatedAt string
	UpdatedAt string
	Name      string `gorm:"index"`
	Value     int
	Data      []byte
}

// Stats tracking
type Stats struct {
	Inserts     atomic.Int64
	Updates     atomic.Int64
	Deletes     atomic.Int64
	Selects     atomic.Int64
	Errors      atomic.Int64
	Checkpoints atomic.Int64
}

type stressor struct {
	db    *gorm.DB
	path  string
	log   *zap.Logger
	stats Stats

	checkpointMu sync.Mutex
	// workers hold a read lock, the integrity check a write lock
	pauseMu sync.RWMutex
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "stress_test.db"
	}
	checkpointInterval := time.Duration(envInt("CHECKPOINT_INTERVAL_MS", 1000)) * time.Millisecond
	numWorkers := envInt("NUM_WORKERS", 10)
	duration := time.Duration(envInt("DURATION_S", 60)) * time.Second

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if os.Getenv("VERBOSE") == "" {
		logger = logger.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
	}
	sqlitebind.SetLogger(logger.Named("sqlitebind"))

	if err := sqlitebind.LoadRuntime(); err != nil {
		logger.Fatal("sqlite library unavailable", zap.Error(err))
	}

	dsn := dbPath + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: sqlitebind.DriverName,
		DSN:        dsn,
	}, &gorm.Config{
		Logger: &WorkerLogger{log: logger.Named("gorm")},
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get underlying sql.DB", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(0)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logger.Fatal("failed to set journal mode", zap.Error(err))
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		logger.Fatal("failed to migrate", zap.Error(err))
	}

	s := &stressor{db: db, path: dbPath, log: logger}
	logger.Info("database initialized",
		zap.String("path", dbPath),
		zap.Duration("checkpoint_interval", checkpointInterval),
		zap.Int("workers", numWorkers),
		zap.Duration("duration", duration))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3 + numWorkers)
	go func() { defer wg.Done(); s.checkpointWorker(ctx, checkpointInterval) }()
	go func() { defer wg.Done(); s.statsReporter(ctx) }()
	go func() { defer wg.Done(); s.integrityCheckWorker(ctx, 30*time.Second) }()
	for i := 0; i < numWorkers; i++ {
		go func() { defer wg.Done(); s.stressWorker(ctx, i) }()
	}
	wg.Wait()

	// one last check with every worker stopped
	ok := s.doIntegrityCheck()
	s.report()
	if !ok || s.stats.Errors.Load() > 0 {
		_ = logger.Sync()
		os.Exit(1)
	}
}

// Background checkpoint worker - simulates production checkpoint behavior
func (s *stressor) checkpointWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.doCheckpoint(); err != nil {
				s.log.Warn("checkpoint failed", zap.Error(err))
				s.stats.Errors.Add(1)
			} else {
				s.stats.Checkpoints.Add(1)
			}
		}
	}
}

func (s *stressor) doCheckpoint() error {
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	modes := []string{"TRUNCATE", "RESTART", "FULL", "PASSIVE"}
	mode := modes[rand.Intn(len(modes))]
	s.log.Debug("checkpoint", zap.String("mode", mode))
	return s.db.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).Error
}

func (s *stressor) report() {
	s.log.Info("stats",
		zap.Int64("inserts", s.stats.Inserts.Load()),
		zap.Int64("updates", s.stats.Updates.Load()),
		zap.Int64("deletes", s.stats.Deletes.Load()),
		zap.Int64("selects", s.stats.Selects.Load()),
		zap.Int64("checkpoints", s.stats.Checkpoints.Load()),
		zap.Int64("errors", s.stats.Errors.Load()))
}

func (s *stressor) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report()
		}
	}
}

func (s *stressor) integrityCheckWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.doIntegrityCheck() {
				s.stats.Errors.Add(1)
			}
		}
	}
}

// doIntegrityCheck pauses all workers and runs PRAGMA integrity_check on a
// separate read-only connection that bypasses database/sql.
func (s *stressor) doIntegrityCheck() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	conn := sqlitebind.NewConnection(sqlitebind.WithLogger(s.log.Named("integrity")))
	defer conn.Release()
	if err := conn.Open(s.path, sqlitebind.ReadMode, false); err != nil {
		s.log.Error("integrity check could not open database", zap.Error(err))
		return false
	}
	result, err := conn.GetTable("PRAGMA integrity_check", sqlitebind.TableAll)
	if err != nil {
		s.log.Error("integrity check failed to run", zap.Error(err))
		return false
	}
	var lines []string
	for row, ok := result.Next(); ok; row, ok = result.Next() {
		lines = append(lines, row[0])
	}
	if len(lines) == 1 && lines[0] == "ok" {
		s.log.Info("integrity check passed")
		return true
	}
	s.log.Error("database corruption detected", zap.String("output", strings.Join(lines, "\n")))
	return false
}

// stressWorker runs random weighted operations until ctx is done.
func (s *stressor) stressWorker(ctx context.Context, id int) {
	ops := []func(context.Context) error{s.insert, s.update, s.remove, s.find, s.bulk}
	weights := []int{20, 15, 5, 10, 50}

	var weighted []func(context.Context) error
	for i, op := range ops {
		for j := 0; j < weights[i]; j++ {
			weighted = append(weighted, op)
		}
	}

	wctx := context.WithValue(ctx, workerIDKey, id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			// blocks while an integrity check is running
			s.pauseMu.RLock()
			err := weighted[rand.Intn(len(weighted))](wctx)
			s.pauseMu.RUnlock()

			if err != nil && ctx.Err() == nil {
				s.log.Warn("operation failed", zap.Int("worker", id), zap.Error(err))
				s.stats.Errors.Add(1)
			}
			time.Sleep(time.Duration(1+rand.Intn(10)) * time.Millisecond)
		}
	}
}

func (s *stressor) insert(ctx context.Context) error {
	now := time.Now().Format(time.RFC3339)
	record := Record{
		CreatedAt: now,
		UpdatedAt: now,
		Name:      fmt.Sprintf("record_%d", rand.Int63()),
		Value:     rand.Intn(10000),
		Data:      randomBytes(100),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if err == nil {
		s.stats.Inserts.Add(1)
	}
	return err
}

func (s *stressor) update(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		// Pick a random ID - may not exist, that's fine
		if err := tx.First(&record, rand.Intn(100000)+1).Error; err != nil {
			return err
		}
		record.Value = rand.Intn(10000)
		record.Data = randomBytes(100)
		record.UpdatedAt = time.Now().Format(time.RFC3339)
		return tx.Save(&record).Error
	})
	switch err {
	case nil:
		s.stats.Updates.Add(1)
	case gorm.ErrRecordNotFound:
		return nil
	}
	return err
}

func (s *stressor) remove(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&Record{}, rand.Intn(100000)+1).Error
	})
	if err == nil {
		s.stats.Deletes.Add(1)
	}
	return err
}

func (s *stressor) find(ctx context.Context) error {
	ids := make([]int, 10)
	for i := range ids {
		ids[i] = rand.Intn(100000) + 1
	}
	var records []Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Find(&records, ids).Error
	})
	if err == nil {
		s.stats.Selects.Add(1)
	}
	return err
}

func (s *stressor) bulk(ctx context.Context) error {
	const count = 100
	records := make([]Record, count)
	now := time.Now().Format(time.RFC3339)
	for i := range records {
		records[i] = Record{
			CreatedAt: now,
			UpdatedAt: now,
			Name:      fmt.Sprintf("bulk_%d_%d", time.Now().UnixNano(), i),
			Value:     rand.Intn(10000),
			Data:      randomBytes(100),
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err == nil {
		s.stats.Inserts.Add(count)
	}
	return err
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}
