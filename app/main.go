package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	ntf "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/courtyard/yardmaster/app/api"
	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/history"
	"github.com/courtyard/yardmaster/app/jobs"
	"github.com/courtyard/yardmaster/app/lock"
	"github.com/courtyard/yardmaster/app/notify"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/router"
	"github.com/courtyard/yardmaster/app/runner"
	"github.com/courtyard/yardmaster/app/service"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

var opts struct {
	Listen       string  `short:"l" long:"listen" env:"YARD_LISTEN" default:"127.0.0.1:8080" description:"api listen address"`
	AuthHash     string  `long:"auth-hash" env:"YARD_AUTH_HASH" description:"bcrypt hash of the api password, user yard"`
	JobsFile     string  `short:"f" long:"jobs" env:"YARD_JOBS" description:"yaml file with training jobs to enqueue at start"`
	HistoryDB    string  `long:"history-db" env:"YARD_HISTORY_DB" default:"yardmaster.db" description:"run journal sqlite file, empty to disable"`
	LogLines     int     `long:"log-lines" env:"YARD_LOG_LINES" default:"1000" description:"lines kept in generation and training log buffers"`
	Echo         bool    `long:"echo" env:"YARD_ECHO" description:"echo training output to the log writer"`
	KickSchedule string  `long:"kick" env:"YARD_KICK" default:"@every 1m" description:"schedule of speculative queue dispatch, empty to disable"`
	DiskPath     string  `long:"disk-path" env:"YARD_DISK_PATH" default:"/" description:"path reported by system endpoint"`
	ControlRate  float64 `long:"control-rate" env:"YARD_CONTROL_RATE" default:"5" description:"control requests per second per client"`
	Dbg          bool    `long:"dbg" env:"YARD_DEBUG" description:"debug mode"`

	Runner struct {
		URL     string        `long:"url" env:"URL" default:"http://127.0.0.1:8765" description:"runner host url"`
		Token   string        `long:"token" env:"TOKEN" description:"runner bearer token"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"runner request timeout"`
	} `group:"runner" namespace:"runner" env-namespace:"YARD_RUNNER"`

	Events struct {
		Stdin   bool          `long:"stdin" env:"STDIN" description:"read runner events from stdin"`
		File    string        `long:"file" env:"FILE" description:"follow runner events file"`
		FromEnd bool          `long:"from-end" env:"FROM_END" description:"skip existing content of events file"`
		Poll    time.Duration `long:"poll" env:"POLL" default:"1s" description:"events file poll interval"`
	} `group:"events" namespace:"events" env-namespace:"YARD_EVENTS"`

	Queue struct {
		SettleDelay time.Duration `long:"settle" env:"SETTLE" default:"500ms" description:"delay before dispatch after job end"`
		RetryDelay  time.Duration `long:"retry" env:"RETRY" default:"1s" description:"delay before dispatch after failed start"`
	} `group:"queue" namespace:"queue" env-namespace:"YARD_QUEUE"`

	Conditions struct {
		MaxConcurrentChecks int `long:"max-checks" env:"MAX_CHECKS" default:"4" description:"max concurrent resource checks"`
	} `group:"conditions" namespace:"conditions" env-namespace:"YARD_CONDITIONS"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to repeat failed stop and notify requests"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"YARD_REPEATER"`

	Notify struct {
		EnabledError       bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on failed runs"`
		EnabledCompletion  bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable notifications on completed runs"`
		SMTPHost           string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort           int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername       string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword       string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS            bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut        time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		FromEmail          string        `long:"from" env:"FROM" description:"SMTP from email"`
		ToEmails           []string      `long:"to" env:"TO" description:"SMTP to email(s)" env-delim:","`
		Webhooks           []string      `long:"webhook" env:"WEBHOOK" description:"webhook url(s)" env-delim:","`
		WebhookHeaders     []string      `long:"webhook-header" env:"WEBHOOK_HEADER" description:"webhook header(s), Header:value" env-delim:","`
		WebhookTimeout     time.Duration `long:"webhook-timeout" env:"WEBHOOK_TIMEOUT" default:"10s" description:"webhook timeout"`
		ErrorTemplate      string        `long:"err-template" env:"ERR_TEMPLATE" description:"error notification template file"`
		CompletionTemplate string        `long:"complete-template" env:"COMPLETE_TEMPLATE" description:"completion notification template file"`
		HostName           string        `long:"host" env:"HOSTNAME" description:"host name running yardmaster"`
		Timeout            time.Duration `long:"timeout" env:"TIMEOUT" default:"1m" description:"notification delivery timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"YARD_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Filename        string `long:"filename" env:"FILENAME" description:"file to write logs to, stdout if empty"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max size of log file in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep old log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"YARD_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("yardmaster %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	out := setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel) // handle SIGQUIT, SIGTERM and SIGINT

	if err := run(ctx, out); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	rptr := makeRepeater()
	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: opts.Queue.SettleDelay, RetryDelay: opts.Queue.RetryDelay})
	defer q.Close()
	checker := sysinfo.NewChecker(opts.Conditions.MaxConcurrentChecks)
	runnerClient := &runner.Client{BaseURL: opts.Runner.URL, Token: opts.Runner.Token, Timeout: opts.Runner.Timeout,
		Repeater: rptr}

	reporter := &service.Reporter{NotifyTimeout: opts.Notify.Timeout}
	if notif := makeNotifier(rptr); notif != nil {
		reporter.Notifier = notif
	}
	var journal api.Journal
	if opts.HistoryDB != "" {
		store, err := history.NewSQLiteStore(opts.HistoryDB)
		if err != nil {
			return fmt.Errorf("can't open run journal: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("[WARN] can't close run journal, %v", err)
			}
		}()
		reporter.Journal, journal = store, store
	}
	defer reporter.Wait()

	var echo io.Writer
	if opts.Echo {
		echo = out
	}
	svc := service.New(service.Params{
		Locker:          lk,
		Queue:           q,
		Runner:          runnerClient,
		Reloader:        runnerClient,
		RunEventHandler: reporter,
		Checker:         checker,
		LogCapacity:     opts.LogLines,
		Echo:            echo,
	})
	q.SetStarter(svc)

	bus := events.NewBus()
	rt := router.New(bus, svc, svc)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("can't start event router: %w", err)
	}

	if opts.JobsFile != "" {
		n, err := enqueueJobs(opts.JobsFile, q)
		if err != nil {
			return err
		}
		log.Printf("[INFO] enqueued %d jobs from %s", n, opts.JobsFile)
		q.Kick()
	}

	if opts.KickSchedule != "" {
		cr := cron.New()
		if _, err := cr.AddFunc(opts.KickSchedule, q.Kick); err != nil {
			return fmt.Errorf("bad kick schedule %q: %w", opts.KickSchedule, err)
		}
		cr.Start()
		defer cr.Stop()
	}

	srv, err := api.New(api.Config{Orchestrator: svc, Queue: q, Journal: journal, System: checker, Publisher: bus,
		PasswordHash: opts.AuthHash, Version: revision, DiskPath: opts.DiskPath, ControlRate: opts.ControlRate})
	if err != nil {
		return fmt.Errorf("can't make api server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gr := syncs.NewSizedGroup(2, syncs.Context(ctx))
	gr.Go(func(ctx context.Context) {
		if err := srv.Run(ctx, opts.Listen); err != nil {
			log.Printf("[ERROR] %v", err)
		}
		cancel()
	})
	if opts.Events.Stdin {
		// not in the group, a blocked stdin read would hold the shutdown
		go func() {
			if err := events.ReadStream(ctx, os.Stdin, bus); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[WARN] stdin events stopped, %v", err)
			}
			log.Printf("[INFO] stdin events closed")
		}()
	}
	if opts.Events.File != "" {
		gr.Go(func(ctx context.Context) {
			fl := &events.Follower{Path: opts.Events.File, FromEnd: opts.Events.FromEnd, PollEvery: opts.Events.Poll}
			if err := fl.Run(ctx, publishLine(bus)); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[WARN] events file %s stopped, %v", opts.Events.File, err)
			}
		})
	}
	gr.Wait()
	log.Printf("[INFO] terminated")
	return nil
}

// publishLine decodes a line of the events file and publishes it
func publishLine(pub events.Publisher) func(line string) {
	return func(line string) {
		if ev, ok := events.DecodeLine(line); ok {
			pub.Publish(ev)
		}
	}
}

// enqueueJobs loads the jobs file and adds every job to the queue
func enqueueJobs(path string, q *queue.Queue) (int, error) {
	f, err := jobs.Load(path)
	if err != nil {
		return 0, fmt.Errorf("can't load jobs: %w", err)
	}
	for _, j := range f.Jobs {
		q.Add(j.OwnerID, j.Name(), j.Payload())
	}
	return len(f.Jobs), nil
}

func makeRepeater() *repeater.Repeater {
	return repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})
}

// makeNotifier returns nil if notifications are disabled or no destination is set
func makeNotifier(rptr notify.Repeater) *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}
	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "yardmaster@" + makeHostName()
	}

	return notify.NewService(
		notify.Params{
			EnabledError:       opts.Notify.EnabledError,
			EnabledCompletion:  opts.Notify.EnabledCompletion,
			ErrorTemplate:      opts.Notify.ErrorTemplate,
			CompletionTemplate: opts.Notify.CompletionTemplate,
			HostName:           makeHostName(),
			Repeater:           rptr,
		},
		notify.SendersParams{
			SMTPParams: ntf.SMTPParams{
				Host:        opts.Notify.SMTPHost,
				Port:        opts.Notify.SMTPPort,
				TLS:         opts.Notify.SMTPTLS,
				ContentType: "text/html",
				Username:    opts.Notify.SMTPUsername,
				Password:    opts.Notify.SMTPPassword,
				TimeOut:     opts.Notify.SMTPTimeOut,
			},
			FromEmail:      opts.Notify.FromEmail,
			ToEmails:       opts.Notify.ToEmails,
			WebhookURLs:    opts.Notify.Webhooks,
			WebhookHeaders: opts.Notify.WebhookHeaders,
			WebhookTimeout: opts.Notify.WebhookTimeout,
		},
	)
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// setupLogs configures lgr and returns the writer used for log output
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return os.Stdout
	}

	var out io.Writer = os.Stdout
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] signal %s received", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
