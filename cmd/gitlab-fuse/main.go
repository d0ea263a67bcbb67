// Command gitlab-fuse mounts a GitLab repository as a read-only
// filesystem.
//
// Usage:
//
//	gitlab-fuse [options] MOUNTPOINT gitlab://group/project[@ref]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gchaperon/gitlab-fsspec/fusefs"
	"github.com/gchaperon/gitlab-fsspec/gitlabfs"
)

func main() {
	baseURL := pflag.String("base-url", "", "GitLab instance URL (default https://gitlab.com)")
	privateToken := pflag.String("private-token", "", "personal access token (falls back to GITLAB_PRIVATE_TOKEN)")
	oauthToken := pflag.String("oauth-token", "", "OAuth token (falls back to GITLAB_OAUTH_TOKEN)")
	jobToken := pflag.String("job-token", "", "CI job token (falls back to GITLAB_JOB_TOKEN, CI_JOB_TOKEN)")
	timeout := pflag.Duration("timeout", time.Minute, "per-request timeout")
	workers := pflag.Int("workers", 0, "per-operation remote concurrency (0 for the default)")
	debug := pflag.Bool("debug", false, "enable debug output")
	pflag.Parse()

	if pflag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] MOUNTPOINT gitlab://group/project[@ref]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		os.Exit(1)
	}
	mountpoint := pflag.Arg(0)
	target := pflag.Arg(1)

	logger := newLogger(*debug)
	defer logger.Sync()

	addr, err := gitlabfs.ParseAddress(target)
	if err != nil {
		logger.Fatal("invalid address", zap.String("address", target), zap.Error(err))
	}
	if addr.InnerPath != "" {
		logger.Fatal("mount target must not carry an in-repository path",
			zap.String("address", target), zap.String("inner", addr.InnerPath))
	}

	gfs, err := gitlabfs.New(gitlabfs.Config{
		ProjectPath:  addr.ProjectPath,
		Ref:          addr.Ref,
		BaseURL:      *baseURL,
		PrivateToken: *privateToken,
		OAuthToken:   *oauthToken,
		JobToken:     *jobToken,
		Timeout:      *timeout,
		Workers:      *workers,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("filesystem setup failed", zap.Error(err))
	}

	srv, err := fusefs.Mount(mountpoint, gfs, logger, *debug)
	if err != nil {
		logger.Fatal("mount failed", zap.String("mountpoint", mountpoint), zap.Error(err))
	}
	logger.Info("mounted", zap.String("mountpoint", mountpoint), zap.String("fsid", gfs.FSID()))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srv.Unmount()
	}()

	srv.Wait()
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}
