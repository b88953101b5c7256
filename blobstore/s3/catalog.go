package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrAlreadyRecorded is returned when a bucket hash is committed to the
// catalog twice. Content addressing makes this benign: the archived bytes
// are identical by construction.
var ErrAlreadyRecorded = errors.New("bucket hash already recorded")

// DDBClient is the subset of the DynamoDB API the catalog depends on.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Catalog records which bucket hashes have been archived, using DynamoDB
// conditional writes so concurrent archivers of the same hash coordinate
// without clobbering.
//
// Table schema:
//   - Partition key: archive_uri (string) - the S3 bucket/prefix
//   - Sort key: bucket_hash (string) - hex content hash
type Catalog struct {
	client     DDBClient
	tableName  string
	archiveURI string
}

// NewCatalog creates a catalog over the given table for one archive URI.
func NewCatalog(client DDBClient, tableName, archiveURI string) *Catalog {
	return &Catalog{client: client, tableName: tableName, archiveURI: archiveURI}
}

// Record commits hash -> object name. Fails with ErrAlreadyRecorded if the
// hash was committed before.
func (c *Catalog) Record(ctx context.Context, hash, objectName string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"archive_uri": &types.AttributeValueMemberS{Value: c.archiveURI},
			"bucket_hash": &types.AttributeValueMemberS{Value: hash},
			"object_name": &types.AttributeValueMemberS{Value: objectName},
		},
		ConditionExpression: aws.String("attribute_not_exists(bucket_hash)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("s3: record bucket hash: %w", err)
	}
	return nil
}

// Lookup returns the archived object name for hash.
func (c *Catalog) Lookup(ctx context.Context, hash string) (string, bool, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"archive_uri": &types.AttributeValueMemberS{Value: c.archiveURI},
			"bucket_hash": &types.AttributeValueMemberS{Value: hash},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("s3: lookup bucket hash: %w", err)
	}
	if len(resp.Item) == 0 {
		return "", false, nil
	}
	nameAttr, ok := resp.Item["object_name"].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, errors.New("s3: invalid object_name attribute")
	}
	return nameAttr.Value, true, nil
}

// Forget removes the record for hash, e.g. after pruning an archive.
func (c *Catalog) Forget(ctx context.Context, hash string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"archive_uri": &types.AttributeValueMemberS{Value: c.archiveURI},
			"bucket_hash": &types.AttributeValueMemberS{Value: hash},
		},
	})
	return err
}
