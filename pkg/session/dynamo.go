// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/logger"
)

// DynamoAPI is the subset of the DynamoDB API the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store against a DynamoDB table keyed by sessionId
// with the sparse authorizationCode-index GSI. Code issuance and token
// issuance are each a single conditional update, never a read-modify-write
// pair.
type DynamoStore struct {
	db    DynamoAPI
	table string
	ttls  TTLs
	now   func() time.Time
}

// DynamoOption configures a DynamoStore.
type DynamoOption func(*DynamoStore)

// WithDynamoClock sets the time source.
func WithDynamoClock(now func() time.Time) DynamoOption {
	return func(s *DynamoStore) {
		s.now = now
	}
}

// NewDynamoStore creates a DynamoStore over the given table.
func NewDynamoStore(db DynamoAPI, table string, ttls TTLs, opts ...DynamoOption) *DynamoStore {
	s := &DynamoStore{
		db:    db,
		table: table,
		ttls:  ttls,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveSession implements Store.
func (s *DynamoStore) SaveSession(ctx context.Context, summary Summary) (string, error) {
	now := s.now()
	item := &Item{
		SessionID:           uuid.NewString(),
		ClientID:            summary.ClientID,
		ClientSessionID:     summary.ClientSessionID,
		Subject:             summary.Subject,
		PersistentSessionID: summary.PersistentSessionID,
		ClientIPAddress:     summary.ClientIPAddress,
		RedirectURI:         summary.RedirectURI,
		State:               summary.State,
		CreatedDate:         now.Unix(),
		ExpiryDate:          now.Add(s.ttls.Session).Unix(),
	}

	attrs, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", apperrors.NewServerError("failed to marshal session item", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                attrs,
		ConditionExpression: aws.String("attribute_not_exists(sessionId)"),
	})
	if err != nil {
		return "", apperrors.NewServerError("failed to save session", err)
	}

	logger.Infow("session saved", "client_session_id", item.ClientSessionID)
	return item.SessionID, nil
}

// GetSession implements Store.
func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*Item, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		return nil, apperrors.NewServerError("failed to read session", err)
	}
	if out.Item == nil {
		return nil, apperrors.NewSessionNotFoundError("session not found", nil)
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, apperrors.NewServerError("failed to unmarshal session item", err)
	}
	return &item, nil
}

// CreateAuthorizationCode implements Store. The update is conditional on the
// record existing and still belonging to the same journey so it can never
// silently succeed against a different session.
func (s *DynamoStore) CreateAuthorizationCode(ctx context.Context, item *Item) (string, error) {
	code, err := randomArtifact()
	if err != nil {
		return "", apperrors.NewServerError("failed to generate authorization code", err)
	}
	expiry := s.now().Add(s.ttls.AuthorizationCode).Unix()

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: item.SessionID},
		},
		UpdateExpression:    aws.String("SET authorizationCode = :code, authorizationCodeExpiryDate = :expiry"),
		ConditionExpression: aws.String("attribute_exists(sessionId) AND clientSessionId = :journey"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":code":    &types.AttributeValueMemberS{Value: code},
			":expiry":  &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)},
			":journey": &types.AttributeValueMemberS{Value: item.ClientSessionID},
		},
	})
	if err != nil {
		return "", apperrors.NewServerError("failed to persist authorization code", err)
	}

	item.AuthorizationCode = code
	item.AuthorizationCodeExpiryDate = expiry
	return code, nil
}

// GetSessionByAuthorizationCode implements Store.
func (s *DynamoStore) GetSessionByAuthorizationCode(ctx context.Context, code string) (*Item, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(CodeIndexName),
		KeyConditionExpression: aws.String("authorizationCode = :code"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":code": &types.AttributeValueMemberS{Value: code},
		},
	})
	if err != nil {
		return nil, apperrors.NewServerError("failed to query authorization code index", err)
	}

	var matches []Item
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &matches); err != nil {
		return nil, apperrors.NewServerError("failed to unmarshal query result", err)
	}

	return resolveCodeMatches(matches, s.now())
}

// CreateAccessToken implements Store. Setting the token and clearing the
// code happen in one update; the record is never observably in both states.
func (s *DynamoStore) CreateAccessToken(ctx context.Context, item *Item, token *BearerAccessToken) error {
	expiry := s.now().Add(s.ttls.AccessToken).Unix()

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: item.SessionID},
		},
		UpdateExpression: aws.String(
			"SET accessToken = :token, accessTokenExpiryDate = :expiry REMOVE authorizationCode, authorizationCodeExpiryDate"),
		ConditionExpression: aws.String("authorizationCode = :code"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token":  &types.AttributeValueMemberS{Value: token.AccessToken},
			":expiry": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)},
			":code":   &types.AttributeValueMemberS{Value: item.AuthorizationCode},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return apperrors.NewInvalidAccessTokenError("authorization code no longer current", err)
		}
		return apperrors.NewServerError("failed to persist access token", err)
	}

	item.AccessToken = token.AccessToken
	item.AccessTokenExpiryDate = expiry
	item.AuthorizationCode = ""
	item.AuthorizationCodeExpiryDate = 0
	return nil
}
