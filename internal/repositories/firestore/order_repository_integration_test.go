//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/inkfold/api/internal/domain"
	pconfig "github.com/inkfold/api/internal/platform/config"
	pfirestore "github.com/inkfold/api/internal/platform/firestore"
	"github.com/inkfold/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

var errCannotCancel = errors.New("cannot cancel")

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")

	orders, err := NewOrderRepository(provider)
	require.NoError(t, err)
	audits, err := NewAuditLogRepository(provider)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		OrderID:        "ORD-1-A",
		Customer:       domain.Customer{Name: "Asha", Email: "asha@example.in", UserID: "uid-1"},
		Shipping:       domain.ShippingDetails{Address: "12 MG Road", Pincode: "273001", Cost: 40},
		Items:          []domain.OrderItem{{ID: "nb-a5", Name: "A5 Dotted", Price: 249, Quantity: 2, Weight: 0.3}},
		Amount:         498,
		Status:         domain.OrderStatusPending,
		ShippingStatus: domain.ShippingStatusNotDispatched,
		PaymentStatus:  domain.PaymentStatusPaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created := &domain.AuditLogEntry{ID: "audit-1", Action: domain.AuditActionOrderCreated, OrderID: order.OrderID, PerformedBy: "uid-1", Timestamp: now}

	require.NoError(t, orders.Insert(ctx, order, created))

	err = orders.Insert(ctx, order, &domain.AuditLogEntry{ID: "audit-dup", Action: domain.AuditActionOrderCreated, Timestamp: now})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsConflict(), "duplicate insert conflicts: %v", err)

	loaded, err := orders.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, "uid-1", loaded.Customer.UserID)
	require.Len(t, loaded.Items, 1)
	require.Equal(t, 498.0, loaded.Amount)

	_, err = orders.FindByID(ctx, "ORD-missing")
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsNotFound(), "missing order: %v", err)

	// Two concurrent cancellations: exactly one wins, the loser observes the cancelled state.
	cancelOnce := func(order *domain.Order) (*domain.AuditLogEntry, error) {
		if !order.CanCancel() {
			return nil, errCannotCancel
		}
		order.ShippingStatus = domain.ShippingStatusCancelled
		order.PaymentStatus = domain.PaymentStatusRefundInitiated
		return &domain.AuditLogEntry{
			ID:        fmt.Sprintf("audit-cancel-%d", time.Now().UnixNano()),
			Action:    domain.AuditActionOrderCancelled,
			OrderID:   order.OrderID,
			Timestamp: now,
		}, nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		winner int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orders.Mutate(ctx, order.OrderID, cancelOnce)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winner++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winner, "exactly one cancel wins (errors %v)", errs)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], errCannotCancel)

	loaded, err = orders.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.ShippingStatusCancelled, loaded.ShippingStatus)
	require.Equal(t, domain.PaymentStatusRefundInitiated, loaded.PaymentStatus)

	page, err := audits.List(ctx, repositories.AuditLogFilter{OrderID: order.OrderID, Pagination: domain.PageRequest{Page: 1, Limit: 10}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2, "created plus one cancel entry")

	list, err := orders.List(ctx, repositories.OrderListFilter{UserID: "uid-1", Pagination: domain.PageRequest{Page: 1, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.False(t, list.HasMore)
}

func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()

	endpoint := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if endpoint == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			t.Skip("docker not available: " + err.Error())
		}
		ensureDockerDaemon(t)

		port := freePort(t)
		endpoint = fmt.Sprintf("127.0.0.1:%d", port)
		containerID := startFirestoreEmulator(t, port)
		t.Cleanup(func() { stopContainer(containerID) })
	}
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	out, err := exec.Command("docker", args...).CombinedOutput()
	require.NoError(t, err, "start firestore emulator: %s", out)
	id := strings.TrimSpace(string(out))
	require.NotEmpty(t, id, "docker returned empty container id")
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	require.FailNowf(t, "firestore emulator not ready", "%s did not accept connections within %s", endpoint, timeout)
}
