package openapi

import "github.com/getkin/kin-openapi/openapi3"

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		},
	}
}

func str(desc string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = desc
	return &openapi3.SchemaRef{Value: s}
}

func enum(desc string, values ...string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = desc
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return &openapi3.SchemaRef{Value: s}
}

func integer(desc string) *openapi3.SchemaRef {
	s := openapi3.NewInt64Schema()
	s.Description = desc
	return &openapi3.SchemaRef{Value: s}
}

func boolean(desc string) *openapi3.SchemaRef {
	s := openapi3.NewBoolSchema()
	s.Description = desc
	return &openapi3.SchemaRef{Value: s}
}

func array(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items},
	}
}

// durations is a product ID to seconds map.
func durations() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: integer("Seconds")},
		},
	}
}

var outcomes = []string{"Ok", "InvalidLicense", "HWIDMismatch", "LicenseExpired", "LicenseFrozen", "Banned", "MissingHeaders"}

var roles = []string{"user", "support", "dev", "admin"}

func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		"ErrorResponse": object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
				"message": str(""),
				"context": &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()},
			}, "code", "message"),
		}, "error"),
		"Success": object(openapi3.Schemas{"success": boolean("")}, "success"),

		// Records
		"Product": object(openapi3.Schemas{
			"id":         str("Product identifier"),
			"name":       str(""),
			"frozen":     boolean("Frozen products deny access and pause expiry"),
			"frozen_at":  integer("Unix seconds the freeze began, 0 when not frozen"),
			"created_at": integer("Unix seconds"),
		}, "id", "frozen"),
		"LicenseProduct": object(openapi3.Schemas{
			"product_id": str(""),
			"duration":   integer("Granted seconds"),
			"started_at": integer("Unix seconds the grant window began"),
		}, "product_id", "duration", "started_at"),
		"License": object(openapi3.Schemas{
			"license_key": str("XXXXX-XXXXX-XXXXX-XXXXX"),
			"hwid":        str("Bound hardware fingerprint, empty until first use"),
			"created_at":  integer("Unix seconds"),
			"products":    array(schemaRef("LicenseProduct")),
			"sessions":    array(schemaRef("Session")),
		}, "license_key", "products"),
		"Session": object(openapi3.Schemas{
			"id":          str(""),
			"license_key": str(""),
			"started":     integer("Unix seconds"),
			"ended":       integer("Unix seconds, absent while open"),
		}, "id", "license_key", "started"),
		"RedemptionKey": object(openapi3.Schemas{
			"key":        str(""),
			"product_id": str(""),
			"duration":   integer("Seconds granted on redemption"),
			"created_at": integer("Unix seconds"),
		}, "key", "product_id", "duration"),
		"User": object(openapi3.Schemas{
			"id":          str(""),
			"email":       str(""),
			"role":        enum("", roles...),
			"banned":      boolean(""),
			"license_key": str("License bound to the account"),
			"created_at":  integer("Unix seconds"),
			"updated_at":  integer("Unix seconds"),
		}, "id", "email", "role"),
		"BannedHWID": object(openapi3.Schemas{
			"hwid":       str(""),
			"reason":     str(""),
			"created_at": integer("Unix seconds"),
		}, "hwid"),
		"LoginAttempt": object(openapi3.Schemas{
			"id":          str(""),
			"license_key": str(""),
			"subject":     str("User ID for credential checks"),
			"product_id":  str(""),
			"hwid":        str(""),
			"outcome":     enum("", outcomes...),
			"time":        integer("Unix seconds"),
		}, "license_key", "outcome", "time"),
		"LogEntry": object(openapi3.Schemas{
			"timestamp": &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()},
			"level":     str(""),
			"message":   str(""),
			"target":    str("Emitting component"),
			"fields":    &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()},
		}, "timestamp", "level", "message"),

		// Results
		"AuthorizeResponse": object(openapi3.Schemas{
			"success":        boolean(""),
			"outcome":        enum("", outcomes...),
			"time_remaining": integer("Seconds of access left, present on success"),
			"message":        str(""),
		}, "success", "outcome"),
		"ProductStatus": object(openapi3.Schemas{
			"product_id":     str(""),
			"name":           str(""),
			"frozen":         boolean(""),
			"duration":       integer("Granted seconds"),
			"started_at":     integer("Unix seconds"),
			"time_remaining": integer("Seconds left"),
			"expired":        boolean(""),
			"expires_at":     integer("Unix seconds"),
		}, "product_id", "time_remaining", "expired"),
		"RedeemResult": object(openapi3.Schemas{
			"outcome":     enum("", "Granted", "Extended"),
			"license_key": str(""),
			"product_id":  str(""),
			"duration":    integer("Seconds added"),
		}, "outcome", "license_key", "product_id", "duration"),
		"UnfreezeResult": object(openapi3.Schemas{
			"product_id":           str(""),
			"frozen_for":           integer("Seconds the product was frozen"),
			"licenses_compensated": integer(""),
		}, "product_id", "frozen_for"),
		"CompensateResult": object(openapi3.Schemas{
			"success":           boolean(""),
			"product_id":        str(""),
			"time_hours":        integer(""),
			"users_compensated": integer(""),
		}, "success", "users_compensated"),
		"GenerateKeysResponse": object(openapi3.Schemas{
			"product_id": str(""),
			"duration":   integer("Seconds"),
			"keys":       array(str("")),
		}, "product_id", "keys"),
		"LoginResponse": object(openapi3.Schemas{
			"token":      str("Bearer token"),
			"token_type": str(""),
			"expires_in": integer("Seconds"),
			"user_id":    str(""),
			"email":      str(""),
			"role":       enum("", roles...),
		}, "token", "expires_in"),

		// Requests
		"AuthorizeRequest": object(openapi3.Schemas{
			"product_id": str(""),
			"hwid":       str(""),
		}, "product_id", "hwid"),
		"LoginRequest": object(openapi3.Schemas{
			"email":    str(""),
			"password": str(""),
		}, "email", "password"),
		"RedeemRequest": object(openapi3.Schemas{"key": str("")}, "key"),
		"CreateProductRequest": object(openapi3.Schemas{
			"id":   str(""),
			"name": str(""),
		}, "id"),
		"CompensateRequest": object(openapi3.Schemas{"time_hours": integer("")}, "time_hours"),
		"GenerateKeysRequest": object(openapi3.Schemas{
			"duration": integer("Seconds granted per key"),
			"count":    integer("1 to 1000"),
		}, "duration", "count"),
		"LicenseProductsRequest": object(openapi3.Schemas{"products": durations()}, "products"),
		"RemoveProductsRequest":  object(openapi3.Schemas{"product_ids": array(str(""))}, "product_ids"),
		"CreateUserRequest": object(openapi3.Schemas{
			"email":    str(""),
			"password": str("At least 8 characters"),
			"role":     enum("", roles...),
		}, "email", "password"),
		"SetRoleRequest": object(openapi3.Schemas{"role": enum("", roles...)}, "role"),
		"BanHWIDRequest": object(openapi3.Schemas{
			"hwid":   str(""),
			"reason": str(""),
		}, "hwid"),
	}
}
