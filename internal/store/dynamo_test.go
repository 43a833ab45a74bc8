package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

// fakeDynamo keeps items by partition key. UpdateItem only checks the
// existence condition and records the request.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	updates []*dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func pkOf(item map[string]types.AttributeValue) string {
	if s, ok := item["pk"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := pkOf(in.Item)
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, ok := f.items[pk]; ok {
			return nil, conditionFailed()
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[pkOf(in.Key)]; !ok {
		return nil, conditionFailed()
	}
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := pkOf(in.Key)
	if _, ok := f.items[pk]; !ok && in.ConditionExpression != nil {
		return nil, conditionFailed()
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func nameValues(names map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, v := range names {
		out = append(out, v)
	}
	return out
}

func TestDynamoInsertListDelete(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	s := New(b)
	ctx := context.Background()

	id, err := s.Create(ctx, sample("Acme"), alice)
	require.NoError(t, err)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, "Acme", all[0].Client)
	assert.Equal(t, []string{"send deck"}, all[0].ActionItems)
	require.NotNil(t, all[0].CreatedBy)
	assert.Equal(t, "u1", all[0].CreatedBy.UID)

	err = b.Insert(ctx, Document{ID: id, Fields: map[string]any{}})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	require.NoError(t, s.Remove(ctx, id))
	assert.ErrorIs(t, s.Remove(ctx, id), apperr.ErrNotFound)

	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDynamoListIgnoresOtherKinds(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	ctx := context.Background()

	require.NoError(t, b.PutProfile(ctx, models.Profile{UID: "u1", Email: "a@b.co"}))
	require.NoError(t, b.Insert(ctx, Document{
		ID:        "o1",
		Fields:    map[string]any{"client": "Acme", "date": "2026-03-01", "assignee": "Kim"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))

	docs, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "o1", docs[0].ID)
}

func TestDynamoMergeBuildsNestedSet(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	ctx := context.Background()

	err := b.Merge(ctx, "missing", map[string]any{"stage": "contract"}, time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, b.Insert(ctx, Document{ID: "o1", Fields: map[string]any{"client": "Acme"}}))
	require.NoError(t, b.Merge(ctx, "o1", map[string]any{"stage": "contract"}, time.Now()))

	require.Len(t, fake.updates, 1)
	in := fake.updates[0]
	assert.Contains(t, *in.UpdateExpression, "SET")
	names := nameValues(in.ExpressionAttributeNames)
	assert.Contains(t, names, "doc")
	assert.Contains(t, names, "stage")
	assert.Contains(t, names, "updatedAt")
	assert.Contains(t, *in.ConditionExpression, "attribute_exists")
}

func TestDynamoAppendMeetingUsesListAppend(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	s := New(b)
	ctx := context.Background()

	id, err := s.Create(ctx, sample("Acme"), nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendMeeting(ctx, id, models.MeetingEntry{ID: "m1", Date: "2026-03-05"}, alice))

	require.Len(t, fake.updates, 1)
	expr := *fake.updates[0].UpdateExpression
	assert.Contains(t, expr, "list_append")
	assert.Contains(t, expr, "if_not_exists")
	assert.Contains(t, nameValues(fake.updates[0].ExpressionAttributeNames), "meetingHistory")
	assert.Contains(t, nameValues(fake.updates[0].ExpressionAttributeNames), "lastModifiedBy")
}

func TestDynamoCredentialsAndRevocation(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	c := models.Credential{UID: "u1", Email: "Kim@Example.com", PasswordHash: "hash", CreatedAt: now}
	require.NoError(t, b.CreateCredential(ctx, c))
	assert.ErrorIs(t, b.CreateCredential(ctx, c), apperr.ErrAlreadyExists)

	got, err := b.CredentialByEmail(ctx, "kim@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = b.CredentialByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, b.RevokeToken(ctx, "live", now.Add(time.Hour)))
	require.NoError(t, b.RevokeToken(ctx, "stale", now.Add(-time.Hour)))

	ok, err := b.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.IsRevoked(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.IsRevoked(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDynamoProfiles(t *testing.T) {
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "salesboard")
	ctx := context.Background()

	_, err := b.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, b.TouchLastLogin(ctx, "u1", time.Now()), apperr.ErrNotFound)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.PutProfile(ctx, models.Profile{UID: "u1", Email: "a@b.co", Company: "Acme", CreatedAt: now, LastLoginAt: now}))
	p, err := b.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", p.Company)
	assert.True(t, p.CreatedAt.Equal(now))
}
