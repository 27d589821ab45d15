package value_object

import "fmt"

// CellCommand is the link-level command of a cell.
type CellCommand byte

const (
	CmdCreateRequest  CellCommand = 0x01
	CmdCreateResponse CellCommand = 0x02
	CmdData           CellCommand = 0x03
	CmdDestroy        CellCommand = 0x04
)

// String returns the string representation of the cell command
func (c CellCommand) String() string {
	switch c {
	case CmdCreateRequest:
		return "CREATE_REQUEST"
	case CmdCreateResponse:
		return "CREATE_RESPONSE"
	case CmdData:
		return "DATA"
	case CmdDestroy:
		return "DESTROY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(c))
	}
}

// IsValid checks if the command is a valid cell command
func (c CellCommand) IsValid() bool {
	switch c {
	case CmdCreateRequest, CmdCreateResponse, CmdData, CmdDestroy:
		return true
	default:
		return false
	}
}

// RoutedKind is the command carried inside an onion-encrypted DATA blob.
type RoutedKind byte

const (
	RoutedExtendRequest  RoutedKind = 0x01
	RoutedExtendResponse RoutedKind = 0x02
	RoutedData           RoutedKind = 0x03
)

func (k RoutedKind) String() string {
	switch k {
	case RoutedExtendRequest:
		return "EXTEND_REQUEST"
	case RoutedExtendResponse:
		return "EXTEND_RESPONSE"
	case RoutedData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(k))
	}
}

func (k RoutedKind) IsValid() bool {
	switch k {
	case RoutedExtendRequest, RoutedExtendResponse, RoutedData:
		return true
	default:
		return false
	}
}
