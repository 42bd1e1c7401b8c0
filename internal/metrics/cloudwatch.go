package metrics

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"optionflow/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	asset     string
}

var cwState atomic.Pointer[cloudWatchState]

func init() {
	cwState.Store(&cloudWatchState{namespace: "OptionFlow"})
}

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace. When the client cannot be created the function logs a
// warning and leaves publishing disabled.
func InitCloudWatch(region, namespace, asset string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: "OptionFlow",
		asset:     asset,
	}
	if namespace != "" {
		state.namespace = namespace
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{"namespace": state.namespace, "region": cfg.Region}).Info("cloudwatch metrics enabled")
}

// PublishSummary pushes the current counter snapshot to CloudWatch. It is a
// no-op when InitCloudWatch has not been called or failed, and publication
// errors never abort the invocation.
func PublishSummary(ctx context.Context) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	log := logger.GetLogger().WithComponent("cloudwatch")

	dims := []cwtypes.Dimension{}
	if state.asset != "" {
		dims = append(dims, cwtypes.Dimension{Name: aws.String("asset"), Value: aws.String(state.asset)})
	}

	data := make([]cwtypes.MetricDatum, 0, 8)
	for name, value := range Snapshot() {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		})
	}

	_, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	})
	if err != nil {
		log.WithError(err).Warn("failed to publish metrics")
		return
	}
	log.WithFields(logger.Fields{"metrics": len(data)}).Debug("metrics published")
}
