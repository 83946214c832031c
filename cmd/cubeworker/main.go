package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/airbusgeo/minicube/builder"
	"github.com/airbusgeo/minicube/catalog"
	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/interface/reader"
	"github.com/airbusgeo/minicube/interface/stacker"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
	"go.uber.org/zap"
)

type config struct {
	WorkingDir string
	StorageURI string
	Registry   string

	PsProject       string
	JobQueue        string
	EventQueue      string
	PgqDbConnection string

	PatchEndpoint         string
	GeocubeServer         string
	GeocubeServerInsecure bool
	GeocubeServerApiKey   string
	GeocubeInstances      map[string]string
	StackerEndpoint       string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Token        string
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", "/local-ssd", "working directory to store intermediate results")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs). To store the cube bundles.")
	flag.StringVar(&config.Registry, "registry", "", "yaml registry of the catalogs serving the collections ($"+catalog.RegistryEnv+" overrides)")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub subscription project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for cube jobs (pgqueue or pubsub subscription)")
	flag.StringVar(&config.EventQueue, "event-queue", "", "name of the queue for job events (pgqueue or pubsub topic)")

	// Readers
	flag.StringVar(&config.PatchEndpoint, "patch-endpoint", "", "endpoint of the pixel-window service extracting the patches")
	flag.StringVar(&config.GeocubeServer, "geocube-server", "", "address of geocube server, an alternative to -patch-endpoint")
	flag.BoolVar(&config.GeocubeServerInsecure, "geocube-insecure", false, "connection to geocube server is insecure")
	flag.StringVar(&config.GeocubeServerApiKey, "geocube-apikey", "", "geocube server api key")
	geocubeInstances := flag.String("geocube-instances", "", "geocube variable instance per band. List of band:instanceID comma-separated")
	flag.StringVar(&config.StackerEndpoint, "stacker-endpoint", "", "endpoint of the stacking service building cubes remotely (optional)")

	// Authentication of the catalog/reader/stacker requests
	flag.StringVar(&config.ClientID, "auth-client-id", "", "client id of the client-credentials flow (optional)")
	flag.StringVar(&config.ClientSecret, "auth-client-secret", "", "client secret of the client-credentials flow (optional)")
	flag.StringVar(&config.TokenURL, "auth-token-url", "", "token url of the client-credentials flow (optional)")
	flag.StringVar(&config.Token, "auth-token", "", "static bearer token (optional)")

	flag.Parse()

	if config.WorkingDir == "" {
		return nil, fmt.Errorf("missing workdir config flag")
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	if config.PatchEndpoint == "" && config.GeocubeServer == "" {
		return nil, fmt.Errorf("missing patch-endpoint or geocube-server config flag")
	}
	if *geocubeInstances != "" {
		config.GeocubeInstances = map[string]string{}
		for _, instance := range strings.Split(*geocubeInstances, ",") {
			kv := strings.SplitN(instance, ":", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("malformed geocube-instances config. Must be band:instanceID")
			}
			config.GeocubeInstances[kv[0]] = kv[1]
		}
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	var jobConsumer messaging.Consumer
	var eventPublisher messaging.Publisher
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.JobQueue)
				consumer := pgqueue.NewConsumer(db, config.JobQueue)
				defer consumer.Stop()
				jobConsumer = consumer
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on pgqueue:%s", config.EventQueue)
				eventPublisher = pgqueue.NewPublisher(w, config.EventQueue, pgqueue.WithMaxRetries(5))
			}
		} else {
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on pubsub:%s/%s", config.PsProject, config.JobQueue)
				if jobConsumer, err = pubsub.NewConsumer(config.PsProject, config.JobQueue); err != nil {
					return fmt.Errorf("pubsub.NewConsumer: %w", err)
				}
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on pubsub:%s/%s", config.PsProject, config.EventQueue)
				eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventQueue, pubsub.WithMaxRetries(5))
				if err != nil {
					return fmt.Errorf("pubsub.NewPublisher: %w", err)
				}
				defer eventTopic.Stop()
				eventPublisher = eventTopic
			}
		}
	}
	if jobConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.JobConsumer")
	}
	if eventPublisher == nil {
		return fmt.Errorf("missing configuration for messaging.EventPublisher")
	}

	storageService, err := service.NewStorageStrategy(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.StorageURI, err)
	}

	// Authenticated client of the catalog, reader and stacker requests
	authClient := service.NewAuthClient(ctx, config.ClientID, config.ClientSecret, config.TokenURL, config.Token)

	// Catalog providers
	reg, err := catalog.LoadRegistry(config.Registry)
	if err != nil {
		return err
	}
	ctlg := &catalog.Catalog{Providers: reg.Providers(authClient)}

	// Patch reader
	var patchReader reader.PatchReader
	if config.PatchEndpoint != "" {
		patchReader = reader.NewPixelService(config.PatchEndpoint, authClient)
	} else {
		var tlsConfig *tls.Config
		if !config.GeocubeServerInsecure {
			tlsConfig = &tls.Config{}
		}
		gcclient, err := service.NewGeocubeClient(ctx, config.GeocubeServer, config.GeocubeServerApiKey, tlsConfig)
		if err != nil {
			return fmt.Errorf("connection to geocube: %w", err)
		}
		patchReader = reader.NewGeocube(gcclient, config.GeocubeInstances)
	}

	// Stacking service (optional)
	var stk stacker.Stacker
	if config.StackerEndpoint != "" {
		stk = stacker.NewService(config.StackerEndpoint, authClient)
	}

	jobStarted := time.Time{}
	go func() {
		http.HandleFunc("/termination_cost", func(w http.ResponseWriter, r *http.Request) {
			terminationCost := 0
			if jobStarted != (time.Time{}) {
				terminationCost = int(time.Since(jobStarted).Seconds() * 1000) //milliseconds since task was leased
			}
			fmt.Fprintf(w, "%d", terminationCost)
		})
		http.ListenAndServe(":9000", nil)
	}()

	maxTries := 15
	log.Logger(ctx).Debug("cubeworker starts " + logMessaging + " fetching patches from " + patchReader.Name() + " exporting to " + config.StorageURI)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			jobStarted = time.Now()
			defer func() {
				jobStarted = time.Time{}
			}()
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)
			status := common.JobStatusRETRY
			job := common.CubeJob{}
			message := ""
			resultURI := ""
			var attrs *common.CubeAttrs

			if err := json.Unmarshal(msg.Data, &job); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if job.JobID == "" {
				return fmt.Errorf("invalid payload: no job id")
			}

			ctx = log.With(ctx, "job", job.JobID)

			defer func() {
				if err != nil && service.Temporary(err) {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					message = err.Error()
				}
				res := common.JobResult{
					JobID:     job.JobID,
					Status:    status,
					Message:   message,
					ResultURI: resultURI,
					Attrs:     attrs,
				}
				resb, e := json.Marshal(res)
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
				} else if e := eventPublisher.Publish(ctx, resb); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()
			if msg.TryCount > maxTries {
				status = common.JobStatusFAILED
				return fmt.Errorf("too many retries")
			}

			uri, cubeAttrs, err := builder.ProcessJob(ctx, ctlg, patchReader, stk, storageService, job.JobID, job.Request, config.WorkingDir)
			if err != nil {
				if msg.TryCount >= maxTries {
					status = common.JobStatusFAILED
					return fmt.Errorf("too many retries: %w", err)
				}
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully processed job %s", job.JobID)
			status = common.JobStatusDONE
			resultURI, attrs = uri, &cubeAttrs
			return
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
