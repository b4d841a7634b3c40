package enums

// Operation names a long-running lifecycle operation.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationVerify  Operation = "verify"
	OperationPreview Operation = "preview"
	OperationRefresh Operation = "refresh"
)

var validOperations = []Operation{
	OperationCreate,
	OperationVerify,
	OperationPreview,
	OperationRefresh,
}

// IsValid reports whether the value is a known Operation.
func (o Operation) IsValid() bool {
	for _, candidate := range validOperations {
		if candidate == o {
			return true
		}
	}
	return false
}
