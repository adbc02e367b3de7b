package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/models"
)

// AzureStore keeps user profiles in Azure Blob Storage:
//
//	users/<userId>/substances/<substanceId>.json
//	users/<userId>/alerts/<interactionId>.json
//	reports/sweep-<timestamp>.json
//
// The alert blob per interaction id is the unit of the idempotent
// create (If-None-Match: *) and the escalate-only replace (If-Match on
// the ETag read with the prior record).
type AzureStore struct {
	client        *azblob.Client
	containerName string
}

// Ensure AzureStore implements both store contracts
var (
	_ ProfileStore = (*AzureStore)(nil)
	_ ReportStore  = (*AzureStore)(nil)
)

// NewAzureStore creates a new Azure-backed store using managed identity
func NewAzureStore(accountName, containerName string) (*AzureStore, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	store := &AzureStore{
		client:        client,
		containerName: containerName,
	}

	if err := store.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return store, nil
}

func (s *AzureStore) ensureContainer() error {
	ctx := context.Background()

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
	} else {
		logrus.Infof("Created container %s", s.containerName)
	}

	return nil
}

func substanceBlob(userID, substanceID string) string {
	return fmt.Sprintf("users/%s/substances/%s.json", userID, substanceID)
}

func alertBlob(userID, interactionID string) string {
	return fmt.Sprintf("users/%s/alerts/%s.json", userID, interactionID)
}

func archivedAlertBlob(userID, interactionID, alertID string) string {
	return fmt.Sprintf("users/%s/alerts/archive/%s-%s.json", userID, interactionID, alertID)
}

// ListUserIDs returns every user that has at least one stored record.
func (s *AzureStore) ListUserIDs(ctx context.Context) ([]string, error) {
	prefix := "users/"
	seen := make(map[string]bool)
	var userIDs []string

	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list user blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			parts := strings.Split(*item.Name, "/")
			if len(parts) < 3 || parts[0] != "users" {
				continue
			}
			if !seen[parts[1]] {
				seen[parts[1]] = true
				userIDs = append(userIDs, parts[1])
			}
		}
	}

	sort.Strings(userIDs)
	return userIDs, nil
}

func (s *AzureStore) ListSubstances(ctx context.Context, userID string) ([]models.Substance, error) {
	prefix := fmt.Sprintf("users/%s/substances/", userID)

	var substances []models.Substance
	if err := s.eachBlob(ctx, prefix, func(data []byte) error {
		var sub models.Substance
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("failed to parse substance record: %w", err)
		}
		substances = append(substances, sub)
		return nil
	}); err != nil {
		return nil, err
	}

	return substances, nil
}

func (s *AzureStore) PutSubstance(ctx context.Context, userID string, substance models.Substance) error {
	data, err := json.Marshal(substance)
	if err != nil {
		return fmt.Errorf("failed to marshal substance: %w", err)
	}

	name := substanceBlob(userID, substance.ID)
	if _, err := s.client.UploadBuffer(ctx, s.containerName, name, data, nil); err != nil {
		return fmt.Errorf("failed to upload substance %s: %w", name, err)
	}
	return nil
}

func (s *AzureStore) ListAlerts(ctx context.Context, userID string) ([]models.Alert, error) {
	prefix := fmt.Sprintf("users/%s/alerts/", userID)

	var alerts []models.Alert
	if err := s.eachBlob(ctx, prefix, func(data []byte) error {
		var alert models.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return fmt.Errorf("failed to parse alert record: %w", err)
		}
		alerts = append(alerts, alert)
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

func (s *AzureStore) LatestAlert(ctx context.Context, userID, interactionID string) (*models.Alert, error) {
	alert, _, err := s.downloadAlert(ctx, userID, interactionID)
	return alert, err
}

func (s *AzureStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	etagAny := azcore.ETagAny
	name := alertBlob(alert.UserID, alert.InteractionID)

	_, err = s.client.UploadBuffer(ctx, s.containerName, name, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: &etagAny,
			},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return ErrAlertExists
		}
		return fmt.Errorf("failed to create alert %s: %w", name, err)
	}

	logrus.Debugf("Created alert %s for user %s", alert.InteractionID, alert.UserID)
	return nil
}

func (s *AzureStore) ReplaceAlert(ctx context.Context, prior, replacement *models.Alert) error {
	stored, etag, err := s.downloadAlert(ctx, prior.UserID, prior.InteractionID)
	if err != nil {
		return err
	}
	if stored == nil || stored.ID != prior.ID {
		return ErrConflict
	}

	data, err := json.Marshal(replacement)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	name := alertBlob(prior.UserID, prior.InteractionID)
	_, err = s.client.UploadBuffer(ctx, s.containerName, name, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfMatch: etag,
			},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) {
			return ErrConflict
		}
		return fmt.Errorf("failed to replace alert %s: %w", name, err)
	}

	// Keep the replaced record, as the caller handed it in, in the
	// user's alert history. Best-effort: the swap above is the
	// authoritative state change.
	if archived, err := json.Marshal(prior); err == nil {
		archiveName := archivedAlertBlob(prior.UserID, prior.InteractionID, prior.ID)
		if _, err := s.client.UploadBuffer(ctx, s.containerName, archiveName, archived, nil); err != nil {
			logrus.Warnf("Failed to archive replaced alert %s: %v", archiveName, err)
		}
	}

	return nil
}

// StoreSweepReport persists a sweep summary alongside the profiles.
func (s *AzureStore) StoreSweepReport(ctx context.Context, report *models.SweepReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep report: %w", err)
	}

	name := fmt.Sprintf("reports/sweep-%s.json", report.StartedAt.UTC().Format("2006-01-02-15-04-05"))
	if _, err := s.client.UploadBuffer(ctx, s.containerName, name, data, nil); err != nil {
		return fmt.Errorf("failed to upload sweep report: %w", err)
	}

	logrus.Infof("Stored sweep report %s", name)
	return nil
}

func (s *AzureStore) downloadAlert(ctx context.Context, userID, interactionID string) (*models.Alert, *azcore.ETag, error) {
	name := alertBlob(userID, interactionID)

	response, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to download alert %s: %w", name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read alert content: %w", err)
	}

	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, nil, fmt.Errorf("failed to parse alert record: %w", err)
	}

	return &alert, response.ETag, nil
}

func (s *AzureStore) eachBlob(ctx context.Context, prefix string, fn func(data []byte) error) error {
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list blobs under %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			response, err := s.client.DownloadStream(ctx, s.containerName, *item.Name, nil)
			if err != nil {
				return fmt.Errorf("failed to download blob %s: %w", *item.Name, err)
			}
			data, err := io.ReadAll(response.Body)
			response.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to read blob %s: %w", *item.Name, err)
			}
			if err := fn(data); err != nil {
				return err
			}
		}
	}

	return nil
}

// Touch updates nothing but verifies connectivity; used by readiness
// checks so a misconfigured identity fails fast instead of at the first
// sweep at midnight.
func (s *AzureStore) Touch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	prefix := "users/"
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return fmt.Errorf("storage connectivity check failed: %w", err)
		}
	}
	return nil
}
