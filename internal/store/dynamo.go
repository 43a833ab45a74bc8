package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoBackend.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Item kinds sharing the single table.
const (
	kindOpportunity = "opportunity"
	kindProfile     = "profile"
	kindCredential  = "credential"
	kindRevoked     = "revoked"
)

const timeLayout = time.RFC3339Nano

// DynamoBackend stores documents in one DynamoDB table keyed by "pk".
type DynamoBackend struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

var _ Backend = (*DynamoBackend)(nil)

// NewDynamoBackend wraps an initialized client.
func NewDynamoBackend(client DynamoAPI, table string) *DynamoBackend {
	return &DynamoBackend{client: client, table: table, now: time.Now}
}

// OpenDynamoDB builds a client from the default AWS credential chain.
// endpoint, when set, points the client at a local DynamoDB.
func OpenDynamoDB(ctx context.Context, table, region, endpoint string) (*DynamoBackend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoBackend(client, table), nil
}

type opportunityItem struct {
	PK        string         `dynamodbav:"pk"`
	Kind      string         `dynamodbav:"kind"`
	ID        string         `dynamodbav:"id"`
	Doc       map[string]any `dynamodbav:"doc"`
	CreatedAt string         `dynamodbav:"createdAt"`
	UpdatedAt string         `dynamodbav:"updatedAt"`
}

type profileItem struct {
	PK          string `dynamodbav:"pk"`
	Kind        string `dynamodbav:"kind"`
	UID         string `dynamodbav:"uid"`
	Email       string `dynamodbav:"email"`
	DisplayName string `dynamodbav:"displayName"`
	Company     string `dynamodbav:"company"`
	Position    string `dynamodbav:"position"`
	CreatedAt   string `dynamodbav:"createdAt"`
	LastLoginAt string `dynamodbav:"lastLoginAt"`
}

type credentialItem struct {
	PK           string `dynamodbav:"pk"`
	Kind         string `dynamodbav:"kind"`
	UID          string `dynamodbav:"uid"`
	Email        string `dynamodbav:"email"`
	PasswordHash string `dynamodbav:"passwordHash"`
	DisplayName  string `dynamodbav:"displayName"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

type revokedItem struct {
	PK        string `dynamodbav:"pk"`
	Kind      string `dynamodbav:"kind"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

func opportunityKey(id string) string { return "OPP#" + id }
func profileKey(uid string) string    { return "PROFILE#" + uid }
func credentialKey(email string) string {
	return "CRED#" + strings.ToLower(email)
}
func revokedKey(jti string) string { return "REVOKED#" + jti }

func key(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Driver returns "dynamodb".
func (b *DynamoBackend) Driver() string { return DriverDynamoDB }

// Close is a no-op; the SDK client holds no resources to release.
func (b *DynamoBackend) Close() error { return nil }

func (b *DynamoBackend) putNew(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("pk"))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(b.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if isConditionFailed(err) {
		return apperr.ErrAlreadyExists
	}
	return err
}

// Insert stores a new document.
func (b *DynamoBackend) Insert(ctx context.Context, doc Document) error {
	return b.putNew(ctx, opportunityItem{
		PK:        opportunityKey(doc.ID),
		Kind:      kindOpportunity,
		ID:        doc.ID,
		Doc:       doc.Fields,
		CreatedAt: doc.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: doc.UpdatedAt.UTC().Format(timeLayout),
	})
}

func (b *DynamoBackend) update(ctx context.Context, pk string, update expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("pk"))).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(b.table),
		Key:                       key(pk),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailed(err) {
		return apperr.ErrNotFound
	}
	return err
}

func setFields(update expression.UpdateBuilder, fields map[string]any) expression.UpdateBuilder {
	for k, v := range fields {
		update = update.Set(expression.Name("doc."+k), expression.Value(v))
	}
	return update
}

// Merge sets top-level fields inside the stored doc map.
func (b *DynamoBackend) Merge(ctx context.Context, id string, fields map[string]any, updatedAt time.Time) error {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(updatedAt.UTC().Format(timeLayout)))
	return b.update(ctx, opportunityKey(id), setFields(update, fields))
}

// AppendMeeting appends entry with list_append, creating the list if needed.
func (b *DynamoBackend) AppendMeeting(ctx context.Context, id string, entry map[string]any, fields map[string]any, updatedAt time.Time) error {
	history := expression.Name("doc.meetingHistory")
	update := expression.Set(expression.Name("updatedAt"), expression.Value(updatedAt.UTC().Format(timeLayout))).
		Set(history, expression.ListAppend(
			expression.IfNotExists(history, expression.Value([]any{})),
			expression.Value([]any{entry}),
		))
	return b.update(ctx, opportunityKey(id), setFields(update, fields))
}

// Delete removes a document.
func (b *DynamoBackend) Delete(ctx context.Context, id string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("pk"))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(b.table),
		Key:                      key(opportunityKey(id)),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if isConditionFailed(err) {
		return apperr.ErrNotFound
	}
	return err
}

func (b *DynamoBackend) scanOpportunities(ctx context.Context) ([]opportunityItem, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("kind").Equal(expression.Value(kindOpportunity))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	p := dynamodb.NewScanPaginator(b.client, &dynamodb.ScanInput{
		TableName:                 aws.String(b.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var items []opportunityItem
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var it opportunityItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil || it.Kind != kindOpportunity {
				continue
			}
			items = append(items, it)
		}
	}
	return items, nil
}

// List returns every document. Ordering is applied by the adapter.
func (b *DynamoBackend) List(ctx context.Context) ([]Document, error) {
	items, err := b.scanOpportunities(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(items))
	for _, it := range items {
		created, _ := time.Parse(timeLayout, it.CreatedAt)
		updated, _ := time.Parse(timeLayout, it.UpdatedAt)
		fields := it.Doc
		if fields == nil {
			fields = map[string]any{}
		}
		docs = append(docs, Document{ID: it.ID, Fields: fields, CreatedAt: created, UpdatedAt: updated})
	}
	return docs, nil
}

// DeleteAll removes every opportunity item.
func (b *DynamoBackend) DeleteAll(ctx context.Context) error {
	items, err := b.scanOpportunities(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(b.table),
			Key:       key(it.PK),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *DynamoBackend) get(ctx context.Context, pk string, out any) error {
	res, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.table),
		Key:       key(pk),
	})
	if err != nil {
		return err
	}
	if len(res.Item) == 0 {
		return apperr.ErrNotFound
	}
	return attributevalue.UnmarshalMap(res.Item, out)
}

// GetProfile returns the profile of uid.
func (b *DynamoBackend) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	var it profileItem
	if err := b.get(ctx, profileKey(uid), &it); err != nil {
		return nil, err
	}
	created, _ := time.Parse(timeLayout, it.CreatedAt)
	last, _ := time.Parse(timeLayout, it.LastLoginAt)
	return &models.Profile{
		UID: it.UID, Email: it.Email, DisplayName: it.DisplayName, Company: it.Company, Position: it.Position,
		CreatedAt: created, LastLoginAt: last,
	}, nil
}

// PutProfile inserts or replaces a profile.
func (b *DynamoBackend) PutProfile(ctx context.Context, p models.Profile) error {
	av, err := attributevalue.MarshalMap(profileItem{
		PK: profileKey(p.UID), Kind: kindProfile,
		UID: p.UID, Email: p.Email, DisplayName: p.DisplayName, Company: p.Company, Position: p.Position,
		CreatedAt:   p.CreatedAt.UTC().Format(timeLayout),
		LastLoginAt: p.LastLoginAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("store: marshal profile: %w", err)
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(b.table), Item: av})
	return err
}

// TouchLastLogin stamps the last login time of a profile.
func (b *DynamoBackend) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	return b.update(ctx, profileKey(uid),
		expression.Set(expression.Name("lastLoginAt"), expression.Value(at.UTC().Format(timeLayout))))
}

// CreateCredential stores a new login keyed by email.
func (b *DynamoBackend) CreateCredential(ctx context.Context, c models.Credential) error {
	return b.putNew(ctx, credentialItem{
		PK: credentialKey(c.Email), Kind: kindCredential,
		UID: c.UID, Email: strings.ToLower(c.Email), PasswordHash: c.PasswordHash, DisplayName: c.DisplayName,
		CreatedAt: c.CreatedAt.UTC().Format(timeLayout),
	})
}

// CredentialByEmail looks up a login by email.
func (b *DynamoBackend) CredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	var it credentialItem
	if err := b.get(ctx, credentialKey(email), &it); err != nil {
		return nil, err
	}
	created, _ := time.Parse(timeLayout, it.CreatedAt)
	return &models.Credential{
		UID: it.UID, Email: it.Email, PasswordHash: it.PasswordHash, DisplayName: it.DisplayName, CreatedAt: created,
	}, nil
}

// RevokeToken stores a revoked session id. expiresAt doubles as the table TTL attribute.
func (b *DynamoBackend) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	av, err := attributevalue.MarshalMap(revokedItem{PK: revokedKey(jti), Kind: kindRevoked, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return fmt.Errorf("store: marshal revoked token: %w", err)
	}
	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(b.table), Item: av})
	return err
}

// IsRevoked reports whether a session id was revoked and has not expired.
func (b *DynamoBackend) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var it revokedItem
	err := b.get(ctx, revokedKey(jti), &it)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return it.ExpiresAt > b.now().Unix(), nil
}
