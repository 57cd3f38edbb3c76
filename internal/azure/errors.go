package azure

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
)

func statusCode(err error) (int, bool) {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode, true
	}
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		return odataErr.ResponseStatusCode, true
	}
	return 0, false
}

func IsNotFound(err error) bool {
	code, ok := statusCode(err)
	return ok && code == http.StatusNotFound
}

// IsConflict reports whether the service rejected a creation call because
// the resource already exists. ARM reports role assignment duplicates with
// the RoleAssignmentExists code, the directory answers 409 or spells it out
// in the message.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "RoleAssignmentExists" {
		return true
	}
	if code, ok := statusCode(err); ok && code == http.StatusConflict {
		return true
	}
	return strings.Contains(err.Error(), "already exist")
}

func IsPermissionDenied(err error) bool {
	code, ok := statusCode(err)
	return ok && (code == http.StatusUnauthorized || code == http.StatusForbidden)
}
