/*
Package rabbitmq provides a RabbitMQ queue backend for the service broker.
Job pushes become persistent AMQP publishes on the direct "jobs" exchange,
routed by queue name. NewWithAMQPConn keeps a reconnecting, confirm-mode
connection that declares durable priority queues (x-max-priority 9) and their
bindings each time it connects. Trace context can be carried in headers via a
broker.HeaderPropagator.
*/
package rabbitmq
