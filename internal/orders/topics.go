package orders

// All order events share one topic so consumers see them in commit order per order.
const TopicOrderEvents = "order.events"

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
