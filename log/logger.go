// Package log provides structured, per-job logging for the pipeline
// substrate. Every stage invocation logs through a logger scoped to its
// jobId and stage name so operators can grep one job's activity across a
// multi-tenant deployment.
package log

import (
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

// logDestination is where newLogger writes; overridable in tests.
var logDestination io.Writer = os.Stderr

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// AddContext permanently attaches keyvals to the logger for jobID. Any
// future logging for this job includes this context.
func AddContext(jobID string, keyvals ...interface{}) {
	logger := kitlog.With(getLogger(jobID), redactKeyvals(keyvals...)...)

	err := loggerCache.Replace(jobID, logger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = logger.Log("msg", "error replacing logger in cache: "+err.Error())
	}
}

// Log writes an info-level line scoped to jobID.
func Log(jobID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(jobID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogNoJob logs in situations where no job is in scope yet (e.g. before a
// job directory has been created). Should be used sparingly.
func LogNoJob(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogError logs message plus err, scoped to jobID.
func LogError(jobID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(jobID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

// ForStage returns keyvals that scope a log line to a single stage within
// a job, for use with Log/LogError/AddContext.
func ForStage(stage string) []interface{} {
	return []interface{}{"stage", stage}
}

// NewStageLogger returns a logger that writes every line to both
// stageLogPath (truncated/created fresh) and the process log, each line
// carrying jobId and stage fields. The returned io.Closer must be
// closed when the stage finishes to flush and release the file handle.
func NewStageLogger(jobID, stage, stageLogPath string) (kitlog.Logger, io.Closer, error) {
	f, err := os.OpenFile(stageLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}

	mw := io.MultiWriter(f, logDestination)
	base := kitlog.NewLogfmtLogger(log.NewSyncWriter(mw))
	scoped := kitlog.With(base, "ts", kitlog.DefaultTimestampUTC, "jobId", jobID, "stage", stage)
	return scoped, f, nil
}

func getLogger(jobID string) kitlog.Logger {
	logger, found := loggerCache.Get(jobID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "jobId", jobID)
	err := loggerCache.Add(jobID, newLogger, defaultLoggerCacheExpiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "jobId", jobID, "err", err.Error())
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	newLogger := kitlog.NewLogfmtLogger(log.NewSyncWriter(logDestination))
	return kitlog.With(newLogger, "ts", kitlog.DefaultTimestampUTC)
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	var res []interface{}
	for i := range keyvals {
		if i%2 == 1 {
			k, v := keyvals[i-1], keyvals[i]
			res = append(res, k)
			switch s := v.(type) {
			case string:
				res = append(res, RedactURL(s))
			case url.URL:
				res = append(res, s.Redacted())
			case *url.URL:
				if s != nil {
					res = append(res, s.Redacted())
				}
			default:
				res = append(res, v)
			}
		}
	}
	return res
}

// RedactURL strips userinfo (credentials) from any http(s)/s3 URL found in
// str so that tokens configured via User Profile credentials never land
// in a stage.log or process log.
func RedactURL(str string) string {
	strLower := strings.ToLower(str)
	if !strings.HasPrefix(strLower, "http") && !strings.HasPrefix(strLower, "s3") {
		return str
	}

	u, err := url.Parse(str)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}
