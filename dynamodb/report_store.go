package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/types"
)

const (
	// LatestReportID is the key of the item that always holds the most recent run.
	LatestReportID = "arxiv_etl_latest_run"

	keyAttribute = "report_id"
	maxRetries   = 3
)

// ReportStore writes run reports to a DynamoDB table keyed on report_id
type ReportStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
	logger    *logger.Logger
}

// NewReportStore creates a report store backed by a new AWS session
func NewReportStore(region, tableName string, log *logger.Logger) (*ReportStore, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewReportStoreWithClient(dynamodb.New(sess), tableName, log), nil
}

// NewReportStoreWithClient creates a report store with a custom client (for testing)
func NewReportStoreWithClient(client dynamodbiface.DynamoDBAPI, tableName string, log *logger.Logger) *ReportStore {
	return &ReportStore{
		client:    client,
		tableName: tableName,
		logger:    log,
	}
}

// DailyReportID returns the key of the per-day report item, e.g. arxiv_etl_report_20240301.
func DailyReportID(report types.RunReport) string {
	return "arxiv_etl_report_" + report.StartedAt.UTC().Format("20060102")
}

// SaveReport writes the report under its daily key and under LatestReportID.
func (s *ReportStore) SaveReport(ctx context.Context, report types.RunReport) error {
	requests := make([]*dynamodb.WriteRequest, 0, 2)
	for _, id := range []string{DailyReportID(report), LatestReportID} {
		item, err := dynamodbattribute.MarshalMap(report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		item[keyAttribute] = &dynamodb.AttributeValue{S: aws.String(id)}
		requests = append(requests, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{Item: item},
		})
	}

	if err := s.executeBatchWriteWithRetry(ctx, requests); err != nil {
		return err
	}

	s.logger.Info("Run report saved", map[string]interface{}{
		"table_name": s.tableName,
		"report_id":  DailyReportID(report),
		"status":     report.Status,
	})
	return nil
}

func (s *ReportStore) executeBatchWriteWithRetry(ctx context.Context, requests []*dynamodb.WriteRequest) error {
	current := requests

	for attempt := 0; attempt < maxRetries && len(current) > 0; attempt++ {
		if attempt > 0 {
			s.logger.Info("Retrying report write", map[string]interface{}{
				"attempt":         attempt + 1,
				"max_retries":     maxRetries,
				"items_remaining": len(current),
			})
		}

		result, err := s.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{
				s.tableName: current,
			},
		})
		if err != nil {
			return fmt.Errorf("batch write failed on attempt %d: %w", attempt+1, err)
		}

		unprocessed := result.UnprocessedItems[s.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		current = unprocessed
	}

	return fmt.Errorf("failed to write %d report items after %d retries", len(current), maxRetries)
}

// LatestReport reads the most recent run report. ok is false when none exists.
func (s *ReportStore) LatestReport(ctx context.Context) (report types.RunReport, ok bool, err error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			keyAttribute: {S: aws.String(LatestReportID)},
		},
	})
	if err != nil {
		return report, false, fmt.Errorf("failed to read latest report: %w", err)
	}
	if len(out.Item) == 0 {
		return report, false, nil
	}
	if err := dynamodbattribute.UnmarshalMap(out.Item, &report); err != nil {
		return report, false, fmt.Errorf("failed to unmarshal latest report: %w", err)
	}
	return report, true, nil
}
