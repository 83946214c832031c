package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/airbusgeo/minicube/builder"
	"github.com/airbusgeo/minicube/catalog"
	"github.com/airbusgeo/minicube/common"
	"github.com/airbusgeo/minicube/cube"
	"github.com/airbusgeo/minicube/interface/database/pg"
	"github.com/airbusgeo/minicube/interface/reader"
	"github.com/airbusgeo/minicube/interface/stacker"
	"github.com/airbusgeo/minicube/service"
	"github.com/airbusgeo/minicube/service/log"
	"github.com/airbusgeo/minicube/workflow"
	"github.com/araddon/dateparse"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

type oneShotConfig struct {
	Lat, Lon    float64
	BBox        string
	AOIFile     string
	EdgeSize    string
	Resolution  float64
	Collection  string
	Bands       string
	From, To    string
	Concurrency int
	Output      string
}

// active returns whether a one-shot geometry was given on the command line.
func (c oneShotConfig) active() bool {
	return c.BBox != "" || c.AOIFile != "" || c.Lat != 0 || c.Lon != 0
}

type autoscalerConfig struct {
	Namespace          string
	WorkerRC           string
	MaxWorkerInstances int64
}

type config struct {
	AppPort      string
	BearerAuth   string
	DbConnection string
	StorageURI   string
	Registry     string

	PsProject       string
	PsSubscription  string
	JobQueue        string
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

	AutoscalerConfig autoscalerConfig
	OneShot          oneShotConfig
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.AppPort, "port", "8080", "minicube server port to use")
	flag.StringVar(&config.BearerAuth, "bearer-auth", "", "token protecting the api routes (optional)")
	flag.StringVar(&config.DbConnection, "db-connection", "", "jobs database connection (server mode)")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri for the cube bundles (currently supported: local, gs)")
	flag.StringVar(&config.Registry, "registry", "", "yaml registry of the catalogs serving the collections ($"+catalog.RegistryEnv+" overrides)")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub project (gcp only/not required in local usage)")
	flag.StringVar(&config.PsSubscription, "ps-subscription", "", "name of the queue for job events (pgqueue or pubsub subscription)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for cube jobs (pgqueue or pubsub topic)")

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

	// Autoscaler
	flag.StringVar(&config.AutoscalerConfig.Namespace, "namespace", "", "namespace (autoscaler)")
	flag.StringVar(&config.AutoscalerConfig.WorkerRC, "worker-rc", "", "cubeworker replication controller name (autoscaler)")
	flag.Int64Var(&config.AutoscalerConfig.MaxWorkerInstances, "max-worker", 10, "max cubeworker instances (autoscaler)")

	// One-shot build
	flag.Float64Var(&config.OneShot.Lat, "lat", 0, "latitude of the center of the cube (one-shot)")
	flag.Float64Var(&config.OneShot.Lon, "lon", 0, "longitude of the center of the cube (one-shot)")
	flag.StringVar(&config.OneShot.BBox, "bbox", "", "minlon,minlat,maxlon,maxlat bounding box of the cube (one-shot)")
	flag.StringVar(&config.OneShot.AOIFile, "aoi", "", "geojson file or url whose extent bounds the cube (one-shot)")
	flag.StringVar(&config.OneShot.EdgeSize, "edge", "", "edge of the cube: pixels or a length ('512', '5 km')")
	flag.Float64Var(&config.OneShot.Resolution, "resolution", 10, "pixel size in projected units (meters)")
	flag.StringVar(&config.OneShot.Collection, "collection", "", "collection to query")
	flag.StringVar(&config.OneShot.Bands, "bands", "", "bands to retrieve, comma-separated")
	flag.StringVar(&config.OneShot.From, "from", "", "start of the time range")
	flag.StringVar(&config.OneShot.To, "to", "", "end of the time range")
	flag.IntVar(&config.OneShot.Concurrency, "concurrency", 0, fmt.Sprintf("parallel patch fetches, 0 for the default (%d)", common.DefaultConcurrency))
	flag.StringVar(&config.OneShot.Output, "output", ".", "directory receiving the bundle when no -storage-uri is given (one-shot)")

	flag.Parse()

	if config.AppPort == "" {
		return nil, fmt.Errorf("failed to initialize port application flag")
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
	log.Flush()
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
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

	if config.OneShot.active() {
		return buildOnce(ctx, config, ctlg, patchReader, stk, authClient)
	}
	return serve(ctx, config, ctlg, patchReader, stk)
}

// buildOnce builds a single cube and stores its bundle.
func buildOnce(ctx context.Context, config *config, ctlg *catalog.Catalog, patchReader reader.PatchReader, stk stacker.Stacker, client *http.Client) error {
	req, err := oneShotRequest(ctx, config.OneShot, client)
	if err != nil {
		return err
	}

	if config.StorageURI != "" {
		storageService, err := service.NewStorageStrategy(ctx, config.StorageURI)
		if err != nil {
			return fmt.Errorf("storage %s: %w", config.StorageURI, err)
		}
		uri, attrs, err := builder.ProcessJob(ctx, ctlg, patchReader, stk, storageService, time.Now().UTC().Format("20060102T150405"), req, os.TempDir())
		if err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("cube of %d scenes (%d dropped) stored", len(attrs.SceneIDs), attrs.DroppedScenes)
		fmt.Println(uri)
		return nil
	}

	c, err := builder.CreateCube(ctx, ctlg, patchReader, stk, req, os.TempDir())
	if err != nil {
		return err
	}
	bundleDir := filepath.Join(config.OneShot.Output, cube.BundleName(c.Attrs))
	if err := cube.WriteBundle(bundleDir, c); err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("cube of %d scenes (%d dropped)", c.Shape[0], c.Attrs.DroppedScenes)
	fmt.Println(bundleDir)
	return nil
}

// oneShotRequest converts the command-line flags into a cube request.
func oneShotRequest(ctx context.Context, c oneShotConfig, client *http.Client) (common.CubeRequest, error) {
	req := common.CubeRequest{
		Collection:  common.CollectionByName(c.Collection),
		Bands:       strings.Split(c.Bands, ","),
		Resolution:  c.Resolution,
		Concurrency: c.Concurrency,
	}
	switch {
	case c.BBox != "":
		for _, s := range strings.Split(c.BBox, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return req, common.InvalidInputf("bbox %q: %v", c.BBox, err)
			}
			req.BBox = append(req.BBox, f)
		}
	case c.AOIFile != "":
		var data []byte
		var err error
		if strings.HasPrefix(c.AOIFile, "http://") || strings.HasPrefix(c.AOIFile, "https://") {
			data, err = service.HTTPGetWithAuth(ctx, client, c.AOIFile, "", "", "")
		} else {
			data, err = os.ReadFile(c.AOIFile)
		}
		if err != nil {
			return req, fmt.Errorf("aoi: %w", err)
		}
		aoi, err := service.UnmarshalGeometry(data)
		if err != nil {
			return req, fmt.Errorf("aoi %s: %w", c.AOIFile, err)
		}
		extent, err := service.GeometryExtent(aoi)
		if err != nil {
			return req, fmt.Errorf("aoi %s: %w", c.AOIFile, err)
		}
		req.BBox = extent[:]
	default:
		req.Center = &common.GeoPoint{Lat: c.Lat, Lon: c.Lon}
		edge, err := common.ParseEdgeSize(c.EdgeSize)
		if err != nil {
			return req, err
		}
		req.EdgeSize = edge
	}
	if c.From != "" {
		t, err := dateparse.ParseAny(c.From)
		if err != nil {
			return req, common.InvalidInputf("from %q: %v", c.From, err)
		}
		req.StartTime = t
	}
	if c.To != "" {
		t, err := dateparse.ParseAny(c.To)
		if err != nil {
			return req, common.InvalidInputf("to %q: %v", c.To, err)
		}
		req.EndTime = t
	}
	return req, req.Validate()
}

// serve runs the minicube server: the api routes and the job-event loop.
func serve(ctx context.Context, config *config, ctlg *catalog.Catalog, patchReader reader.PatchReader, stk stacker.Stacker) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start autoscaler
	if config.AutoscalerConfig.WorkerRC != "" {
		if err := runAutoscaler(ctx, config.PsProject, config.JobQueue, config.AutoscalerConfig); err != nil {
			log.Logger(ctx).Warn("not running autoscaler", zap.Error(err))
		}
	}

	// Connection to database
	if config.DbConnection == "" {
		return fmt.Errorf("missing db-connection config flag")
	}
	db, err := pg.New(ctx, config.DbConnection)
	if err != nil {
		return fmt.Errorf("pg.New: %w", err)
	}

	// Messaging service
	var jobPublisher messaging.Publisher
	var eventConsumer messaging.Consumer
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			if config.PsSubscription != "" {
				logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.PsSubscription)
				consumer := pgqueue.NewConsumer(db, config.PsSubscription)
				defer consumer.Stop()
				eventConsumer = consumer
			}
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pushing jobs on pgqueue:%s", config.JobQueue)
				jobPublisher = pgqueue.NewPublisher(w, config.JobQueue, pgqueue.WithMaxRetries(5))
			}
		} else {
			if config.PsSubscription != "" {
				logMessaging += fmt.Sprintf(" pulling on pubsub:%s/%s", config.PsProject, config.PsSubscription)
				if eventConsumer, err = pubsub.NewConsumer(config.PsProject, config.PsSubscription); err != nil {
					return fmt.Errorf("pubsub.NewConsumer: %w", err)
				}
			}
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pushing jobs on pubsub:%s/%s", config.PsProject, config.JobQueue)
				publisher, err := pubsub.NewPublisher(ctx, config.PsProject, config.JobQueue, pubsub.WithMaxRetries(5))
				if err != nil {
					return fmt.Errorf("pubsub.NewPublisher: %w", err)
				}
				defer publisher.Stop()
				jobPublisher = publisher
			}
		}
	}
	if jobPublisher == nil {
		return fmt.Errorf("missing configuration for messaging.JobPublisher")
	}
	if eventConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.EventConsumer")
	}

	// Bundle storage (optional: /jobs/{job}/download is disabled without it)
	var storageService service.Storage
	if config.StorageURI != "" {
		if storageService, err = service.NewStorageStrategy(ctx, config.StorageURI); err != nil {
			return fmt.Errorf("storage %s: %w", config.StorageURI, err)
		}
	} else {
		log.Logger(ctx).Warn("no storage uri: job bundles cannot be downloaded from this server")
	}

	// Create Workflow Server
	wf := workflow.NewWorkflow(db, jobPublisher, ctlg, patchReader, stk, storageService)
	router := wf.NewHandler()
	if config.BearerAuth != "" {
		router = BearerAuthenticate(config.BearerAuth, router)
	}
	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + config.AppPort,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(router),
	}
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger(ctx).Error(err.Error())
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			log.Logger(ctx).Warn("shutdown", zap.Error(err))
		}
	}()

	log.Logger(ctx).Debug("minicube server starts" + logMessaging)
	for {
		err := eventConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) error {
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)
			if msg.TryCount > 30 {
				return fmt.Errorf("bailing out after too many retries")
			}
			result := common.JobResult{}
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if result.JobID == "" {
				return fmt.Errorf("invalid payload: no job id")
			}
			if err := wf.ResultHandler(ctx, result); err != nil {
				return service.MakeTemporary(fmt.Errorf("failed to process %s: %w", result.JobID, err))
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
