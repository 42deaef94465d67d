package application

import (
	"sync"

	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// VendorClientProvider enables runtime hot-swap of the vendor client.
// It holds a mutex-protected reference to the current driven.VendorClient,
// allowing credential updates to take effect without restarting the process.
type VendorClientProvider struct {
	mu      sync.RWMutex
	client  driven.VendorClient
	account string
}

// NewVendorClientProvider creates a new provider with the given initial
// client and account name. client may be nil if no credentials are available
// at startup.
func NewVendorClientProvider(client driven.VendorClient, account string) *VendorClientProvider {
	return &VendorClientProvider{
		client:  client,
		account: account,
	}
}

// Get returns the current vendor client. Callers should check for nil if the
// provider was created without initial credentials.
func (p *VendorClientProvider) Get() driven.VendorClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Account returns the account name associated with the current client.
func (p *VendorClientProvider) Account() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account
}

// Replace swaps the current client and account with new ones, e.g. after the
// operator stored new credentials. The next caller of Get observes the new
// client.
func (p *VendorClientProvider) Replace(client driven.VendorClient, account string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	p.account = account
}

// HasClient returns true if a non-nil client is currently held.
func (p *VendorClientProvider) HasClient() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}
