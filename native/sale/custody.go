package sale

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// CustodyGateway moves payment-asset funds from buyers into custody and sale
// tokens out of custody to recipients. Implementations must fail loudly: a
// returned error aborts the calling ledger operation.
type CustodyGateway interface {
	// Debit pulls amount of asset from the holder into custody.
	Debit(from [20]byte, asset [20]byte, amount *big.Int) error
	// Credit pushes amount of asset out of custody to the recipient.
	Credit(to [20]byte, asset [20]byte, amount *big.Int) error
}

var errInsufficientFunds = errors.New("sale: insufficient funds")

type balanceState interface {
	BalanceGet(owner [20]byte, asset [20]byte) (*big.Int, error)
	BalancePut(owner [20]byte, asset [20]byte, amount *big.Int) error
}

// BookCustody is a book-entry custody gateway: balances live in the node's own
// state under a dedicated vault account. It serves single-node deployments and
// tests; an on-chain deployment would substitute a token-contract gateway.
type BookCustody struct {
	// mu serializes the read-modify-write cycles on the balance table. Sweeps
	// run outside the engine mutex, so the book must guard itself.
	mu    sync.Mutex
	state balanceState
	vault [20]byte
}

// NewBookCustody constructs a gateway holding custody funds on the given vault
// account.
func NewBookCustody(state balanceState, vault [20]byte) *BookCustody {
	return &BookCustody{state: state, vault: vault}
}

// Vault returns the custody account address.
func (c *BookCustody) Vault() [20]byte { return c.vault }

// Debit implements CustodyGateway.
func (c *BookCustody) Debit(from [20]byte, asset [20]byte, amount *big.Int) error {
	return c.move(from, c.vault, asset, amount)
}

// Credit implements CustodyGateway.
func (c *BookCustody) Credit(to [20]byte, asset [20]byte, amount *big.Int) error {
	return c.move(c.vault, to, asset, amount)
}

func (c *BookCustody) move(from, to [20]byte, asset [20]byte, amount *big.Int) error {
	if c == nil || c.state == nil {
		return fmt.Errorf("sale: custody state not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("sale: custody amount must be non-negative")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromBal, err := c.state.BalanceGet(from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: have %s, need %s", errInsufficientFunds, fromBal, amt)
	}
	toBal, err := c.state.BalanceGet(to, asset)
	if err != nil {
		return err
	}
	if err := c.state.BalancePut(from, asset, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := c.state.BalancePut(to, asset, new(big.Int).Add(toBal, amt)); err != nil {
		// Restore the debited side so a half-applied move never persists.
		if restoreErr := c.state.BalancePut(from, asset, fromBal); restoreErr != nil {
			return fmt.Errorf("sale: custody move stranded: %v (restore: %v)", err, restoreErr)
		}
		return err
	}
	return nil
}

// Balance reads the book balance for (owner, asset).
func (c *BookCustody) Balance(owner [20]byte, asset [20]byte) (*big.Int, error) {
	if c == nil || c.state == nil {
		return nil, fmt.Errorf("sale: custody state not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.BalanceGet(owner, asset)
}

// Mint creates amount of asset directly on the account. It backs genesis
// funding and test setup; the sale engines never mint.
func (c *BookCustody) Mint(owner [20]byte, asset [20]byte, amount *big.Int) error {
	if c == nil || c.state == nil {
		return fmt.Errorf("sale: custody state not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("sale: mint amount must be positive")
	}
	bal, err := c.state.BalanceGet(owner, asset)
	if err != nil {
		return err
	}
	return c.state.BalancePut(owner, asset, new(big.Int).Add(bal, amt))
}
