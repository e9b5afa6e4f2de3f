package orders

// LedgerSize bounds how many processed webhook event ids an order remembers.
const LedgerSize = 50

// Ledger is the ordered list of processed event ids, oldest first.
type Ledger []string

func (l Ledger) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Append adds id and evicts from the front to stay within LedgerSize.
func (l Ledger) Append(id string) Ledger {
	l = append(l, id)
	if over := len(l) - LedgerSize; over > 0 {
		l = append(Ledger(nil), l[over:]...)
	}
	return l
}
