/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// Result is the envelope every engine operation returns to the presentation layer.
// ErrorKind is the machine-readable taxonomy value; Error is the human message.
type Result struct {
	Success             bool   `json:"success"`
	ErrorKind           string `json:"error_kind,omitempty"`
	ErrorCode           string `json:"error_code,omitempty"`
	Error               string `json:"error,omitempty"`
	LedgerTransactionId string `json:"ledger_transaction_id,omitempty"`
	Data                any    `json:"data,omitempty"`
}

// WalletMappingStatus answers check-wallet-mapping.
type WalletMappingStatus struct {
	WalletAddress   string `json:"wallet_address"`
	Mapped          bool   `json:"mapped"`
	LedgerAccountId string `json:"ledger_account_id,omitempty"`
}

// CreateListingRequest carries seller input for create-listing.
type CreateListingRequest struct {
	SellerId     string `json:"seller_id"`
	EnergyAmount string `json:"energy_amount"`
	PricePerUnit string `json:"price_per_unit"`
	EnergySource string `json:"energy_source"`
	Location     string `json:"location,omitempty"`
	TTL          string `json:"ttl,omitempty"`
}

// RegisterProfileRequest carries input for register-profile.
type RegisterProfileRequest struct {
	AccountId   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Location    string `json:"location,omitempty"`
	IsProducer  bool   `json:"is_producer"`
	IsConsumer  bool   `json:"is_consumer"`
}
