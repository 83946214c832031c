package main

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/geocube/interface/autoscaler"
	rc "github.com/airbusgeo/geocube/interface/autoscaler/k8s"
	"github.com/airbusgeo/geocube/interface/autoscaler/qbas"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/airbusgeo/minicube/service/log"
	"go.uber.org/zap"
)

// runAutoscaler scales the cubeworker replication controller on the backlog
// of the job queue.
func runAutoscaler(ctx context.Context, project, jobQueue string, config autoscalerConfig) error {
	wctx := log.WithFields(ctx, zap.String("rc", config.WorkerRC), zap.String("queue", jobQueue))

	controller, err := rc.New(config.WorkerRC, config.Namespace)
	if err != nil {
		return fmt.Errorf("rc.new: %w", err)
	}
	controller.AllowEviction = false
	controller.CostPath = "/termination_cost"
	controller.CostPort = 9000

	queue, err := pubsub.NewConsumer(project, jobQueue)
	if err != nil {
		return fmt.Errorf("pubsub.new: %w", err)
	}

	cfg := qbas.Config{
		Ratio:        2,
		MinRatio:     1,
		MaxInstances: config.MaxWorkerInstances,
		MinInstances: 0,
		MaxStep:      1,
	}
	as := autoscaler.New(queue, controller, cfg, log.Logger(wctx))
	log.Logger(wctx).Sugar().Infof("starting autoscaler")
	go as.Run(wctx, 30*time.Second)
	return nil
}
